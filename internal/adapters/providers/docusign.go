package providers

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/config"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

// docusignStatus is the envelope status vocabulary of the DocuSign eSignature API.
type docusignStatus string

const (
	dsCreated   docusignStatus = "created"
	dsSent      docusignStatus = "sent"
	dsDelivered docusignStatus = "delivered"
	dsSigned    docusignStatus = "signed"
	dsCompleted docusignStatus = "completed"
	dsDeclined  docusignStatus = "declined"
	dsVoided    docusignStatus = "voided"
	dsDeleted   docusignStatus = "deleted"
	dsTimedOut  docusignStatus = "timedout"
)

var docusignStatuses = []docusignStatus{
	dsCreated, dsSent, dsDelivered, dsSigned, dsCompleted, dsDeclined, dsVoided, dsDeleted, dsTimedOut,
}

// local maps the remote status; ok is false for values outside the vocabulary.
func (s docusignStatus) local() (domain.SignatureStatus, bool) {
	switch docusignStatus(strings.ToLower(string(s))) {
	case dsCreated:
		return domain.StatusPending, true
	case dsSent, dsDelivered, dsSigned:
		return domain.StatusInProgress, true
	case dsCompleted:
		return domain.StatusCompleted, true
	case dsDeclined, dsVoided, dsDeleted:
		return domain.StatusRejected, true
	case dsTimedOut:
		return domain.StatusExpired, true
	}
	return "", false
}

// DocuSign is the remote-envelope adapter for the DocuSign eSignature REST API.
// It authenticates with the OAuth JWT bearer grant.
type DocuSign struct {
	cfg    config.DocuSignConfig
	api    *apiClient
	tokens *tokenSource
	key    *rsa.PrivateKey
	keyErr error
	logger *zap.Logger
	now    func() time.Time
}

func NewDocuSign(cfg config.DocuSignConfig, httpClient *http.Client, cache TokenCache, logger *zap.Logger) *DocuSign {
	d := &DocuSign{
		cfg:    cfg,
		api:    newAPIClient(httpClient),
		logger: logger.With(zap.String("provider", string(domain.ProviderDocuSign))),
		now:    time.Now,
	}
	if cfg.PrivateKeyPEM != "" {
		d.key, d.keyErr = jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
		if d.keyErr != nil {
			d.logger.Error("invalid docusign private key", zap.Error(d.keyErr))
		}
	}
	d.tokens = newTokenSource(string(domain.ProviderDocuSign)+":"+cfg.IntegrationKey, cache, d.fetchToken)
	return d
}

func (d *DocuSign) Name() domain.Provider { return domain.ProviderDocuSign }

func (d *DocuSign) Configured() bool { return d.cfg.Configured() && d.key != nil }

// authEndpoint returns the token URL and the JWT audience. AuthHost may carry
// a scheme, which test servers use.
func (d *DocuSign) authEndpoint() (string, string) {
	host := d.cfg.AuthHost
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err == nil {
			return strings.TrimRight(host, "/") + "/oauth/token", u.Host
		}
	}
	return "https://" + host + "/oauth/token", host
}

func (d *DocuSign) fetchToken(ctx context.Context) (Token, error) {
	if !d.Configured() {
		return Token{}, fmt.Errorf("%w: docusign credentials not configured", domain.ErrProviderUnavailable)
	}
	endpoint, aud := d.authEndpoint()
	now := d.now()
	claims := jwt.MapClaims{
		"iss":   d.cfg.IntegrationKey,
		"sub":   d.cfg.UserID,
		"aud":   aud,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"scope": "signature impersonation",
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(d.key)
	if err != nil {
		return Token{}, fmt.Errorf("%w: sign assertion: %v", domain.ErrProviderUnavailable, err)
	}
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	var resp tokenResponse
	if err := d.api.postForm(ctx, endpoint, form, &resp); err != nil {
		return Token{}, err
	}
	d.logger.Debug("docusign token refreshed", zap.Int64("expires_in", resp.ExpiresIn))
	return resp.token(now)
}

func (d *DocuSign) accountURL(parts ...string) string {
	base := strings.TrimRight(d.cfg.BaseURL, "/") + "/v2.1/accounts/" + url.PathEscape(d.cfg.AccountID)
	for _, p := range parts {
		base += "/" + url.PathEscape(p)
	}
	return base
}

type dsDocument struct {
	DocumentBase64 string `json:"documentBase64"`
	Name           string `json:"name"`
	FileExtension  string `json:"fileExtension"`
	DocumentID     string `json:"documentId"`
}

type dsSigner struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	RecipientID  string `json:"recipientId"`
	ClientUserID string `json:"clientUserId"`
	RoutingOrder string `json:"routingOrder"`
}

type dsEnvelopeDefinition struct {
	EmailSubject string       `json:"emailSubject"`
	Documents    []dsDocument `json:"documents"`
	Recipients   struct {
		Signers []dsSigner `json:"signers"`
	} `json:"recipients"`
	Status string `json:"status"`
}

type dsEnvelopeSummary struct {
	EnvelopeID     string `json:"envelopeId"`
	Status         string `json:"status"`
	StatusDateTime string `json:"statusDateTime"`
}

type dsEnvelope struct {
	EnvelopeID        string `json:"envelopeId"`
	Status            string `json:"status"`
	EmailSubject      string `json:"emailSubject"`
	SentDateTime      string `json:"sentDateTime"`
	CompletedDateTime string `json:"completedDateTime"`
	DeclinedDateTime  string `json:"declinedDateTime"`
	VoidedReason      string `json:"voidedReason"`
}

type dsRecipientViewRequest struct {
	ReturnURL            string `json:"returnUrl"`
	AuthenticationMethod string `json:"authenticationMethod"`
	Email                string `json:"email"`
	UserName             string `json:"userName"`
	ClientUserID         string `json:"clientUserId"`
}

func (d *DocuSign) Initiate(ctx context.Context, in InitiateInput) (Initiation, error) {
	if err := requireContent(in.Document); err != nil {
		return Initiation{}, err
	}
	token, err := d.tokens.Token(ctx)
	if err != nil {
		return Initiation{}, err
	}

	def := dsEnvelopeDefinition{
		EmailSubject: "Firma requerida: " + in.Document.Title,
		Documents: []dsDocument{{
			DocumentBase64: base64.StdEncoding.EncodeToString([]byte(in.Document.Content)),
			Name:           in.Document.Title,
			FileExtension:  "html",
			DocumentID:     "1",
		}},
		Status: "sent",
	}
	def.Recipients.Signers = []dsSigner{{
		Email:        in.Signer.Email,
		Name:         in.Signer.FullName,
		RecipientID:  "1",
		ClientUserID: in.SignatureID,
		RoutingOrder: "1",
	}}

	var summary dsEnvelopeSummary
	if err := d.api.postJSON(ctx, d.accountURL("envelopes"), token, def, &summary); err != nil {
		return Initiation{}, fmt.Errorf("create envelope: %w", err)
	}
	if summary.EnvelopeID == "" {
		return Initiation{}, fmt.Errorf("%w: envelope id missing", domain.ErrProviderUnavailable)
	}

	sent := d.now()
	out := Initiation{
		Status:      domain.StatusInProgress,
		ReferenceID: summary.EnvelopeID,
		Details: domain.SignatureDetails{
			Version:      domain.DetailsVersion,
			RemoteStatus: summary.Status,
			SentAt:       &sent,
			SignerEmail:  in.Signer.Email,
			SignerName:   in.Signer.FullName,
		},
	}

	if in.ReturnURL != "" {
		view := dsRecipientViewRequest{
			ReturnURL:            in.ReturnURL,
			AuthenticationMethod: "none",
			Email:                in.Signer.Email,
			UserName:             in.Signer.FullName,
			ClientUserID:         in.SignatureID,
		}
		var viewResp struct {
			URL string `json:"url"`
		}
		if err := d.api.postJSON(ctx, d.accountURL("envelopes", summary.EnvelopeID, "views", "recipient"), token, view, &viewResp); err != nil {
			// The envelope exists; the signer can still sign from the email.
			d.logger.Warn("recipient view failed", zap.String("envelope_id", summary.EnvelopeID), zap.Error(err))
		} else {
			out.RedirectURL = viewResp.URL
			out.Details.SigningURL = viewResp.URL
		}
	}
	return out, nil
}

func (d *DocuSign) envelope(ctx context.Context, sig domain.Signature) (dsEnvelope, error) {
	if sig.ProviderReferenceID == nil || *sig.ProviderReferenceID == "" {
		return dsEnvelope{}, fmt.Errorf("%w: signature %s has no envelope", domain.ErrInvalidState, sig.ID)
	}
	token, err := d.tokens.Token(ctx)
	if err != nil {
		return dsEnvelope{}, err
	}
	var env dsEnvelope
	if err := d.api.getJSON(ctx, d.accountURL("envelopes", *sig.ProviderReferenceID), token, &env); err != nil {
		return dsEnvelope{}, fmt.Errorf("get envelope: %w", err)
	}
	return env, nil
}

func (d *DocuSign) CheckStatus(ctx context.Context, sig domain.Signature) (StatusReport, error) {
	env, err := d.envelope(ctx, sig)
	if err != nil {
		return StatusReport{}, err
	}
	status, ok := docusignStatus(env.Status).local()
	if !ok {
		d.logger.Warn("unknown envelope status", zap.String("status", env.Status), zap.String("signature_id", sig.ID))
		status = sig.Status
	}
	return StatusReport{Status: status, Details: d.detailsOf(env)}, nil
}

func (d *DocuSign) GetDetails(ctx context.Context, sig domain.Signature) (domain.SignatureDetails, error) {
	env, err := d.envelope(ctx, sig)
	if err != nil {
		return domain.SignatureDetails{}, err
	}
	return sig.Details.Merge(d.detailsOf(env)), nil
}

func (d *DocuSign) detailsOf(env dsEnvelope) domain.SignatureDetails {
	det := domain.SignatureDetails{
		Version:      domain.DetailsVersion,
		RemoteStatus: env.Status,
		SentAt:       parseRemoteTime(env.SentDateTime),
		CompletedAt:  parseRemoteTime(env.CompletedDateTime),
	}
	if env.VoidedReason != "" {
		det.Extra = map[string]string{"voidedReason": env.VoidedReason}
	}
	return det
}

func parseRemoteTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.0000000Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
