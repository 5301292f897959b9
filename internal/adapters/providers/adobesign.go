package providers

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/config"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

// adobeStatus is the agreement status vocabulary of the Adobe Sign REST v6 API.
type adobeStatus string

const (
	adobeDraft                  adobeStatus = "DRAFT"
	adobeAuthoring              adobeStatus = "AUTHORING"
	adobeOutForSignature        adobeStatus = "OUT_FOR_SIGNATURE"
	adobeOutForApproval         adobeStatus = "OUT_FOR_APPROVAL"
	adobeWaitingForMySignature  adobeStatus = "WAITING_FOR_MY_SIGNATURE"
	adobeSigned                 adobeStatus = "SIGNED"
	adobeApproved               adobeStatus = "APPROVED"
	adobeAccepted               adobeStatus = "ACCEPTED"
	adobeDelivered              adobeStatus = "DELIVERED"
	adobeFormFilled             adobeStatus = "FORM_FILLED"
	adobeCancelled              adobeStatus = "CANCELLED"
	adobeExpired                adobeStatus = "EXPIRED"
	adobeArchived               adobeStatus = "ARCHIVED"
	adobeWaitingForNotarization adobeStatus = "WAITING_FOR_NOTARIZATION"
)

var adobeStatuses = []adobeStatus{
	adobeDraft, adobeAuthoring, adobeOutForSignature, adobeOutForApproval, adobeWaitingForMySignature,
	adobeSigned, adobeApproved, adobeAccepted, adobeDelivered, adobeFormFilled,
	adobeCancelled, adobeExpired, adobeArchived, adobeWaitingForNotarization,
}

func (s adobeStatus) local() (domain.SignatureStatus, bool) {
	switch adobeStatus(strings.ToUpper(string(s))) {
	case adobeDraft, adobeAuthoring:
		return domain.StatusPending, true
	case adobeOutForSignature, adobeOutForApproval, adobeWaitingForMySignature, adobeWaitingForNotarization:
		return domain.StatusInProgress, true
	case adobeSigned, adobeApproved, adobeAccepted, adobeDelivered, adobeFormFilled, adobeArchived:
		return domain.StatusCompleted, true
	case adobeCancelled:
		return domain.StatusRejected, true
	case adobeExpired:
		return domain.StatusExpired, true
	}
	return "", false
}

// AdobeSign is the remote-envelope adapter for Adobe Acrobat Sign.
// Access tokens come from the OAuth refresh-token grant.
type AdobeSign struct {
	cfg    config.AdobeSignConfig
	api    *apiClient
	tokens *tokenSource
	logger *zap.Logger
	now    func() time.Time
}

func NewAdobeSign(cfg config.AdobeSignConfig, httpClient *http.Client, cache TokenCache, logger *zap.Logger) *AdobeSign {
	a := &AdobeSign{
		cfg:    cfg,
		api:    newAPIClient(httpClient),
		logger: logger.With(zap.String("provider", string(domain.ProviderAdobeSign))),
		now:    time.Now,
	}
	a.tokens = newTokenSource(string(domain.ProviderAdobeSign)+":"+cfg.ClientID, cache, a.fetchToken)
	return a
}

func (a *AdobeSign) Name() domain.Provider { return domain.ProviderAdobeSign }

func (a *AdobeSign) Configured() bool { return a.cfg.Configured() }

func (a *AdobeSign) endpoint(path string) string {
	return strings.TrimRight(a.cfg.APIBase, "/") + path
}

func (a *AdobeSign) fetchToken(ctx context.Context) (Token, error) {
	if !a.Configured() {
		return Token{}, fmt.Errorf("%w: adobe sign credentials not configured", domain.ErrProviderUnavailable)
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"refresh_token": {a.cfg.RefreshToken},
	}
	now := a.now()
	var resp tokenResponse
	if err := a.api.postForm(ctx, a.endpoint("/oauth/v2/refresh"), form, &resp); err != nil {
		return Token{}, err
	}
	return resp.token(now)
}

type adobeMember struct {
	Email string `json:"email"`
}

type adobeParticipantSet struct {
	MemberInfos []adobeMember `json:"memberInfos"`
	Order       int           `json:"order"`
	Role        string        `json:"role"`
}

type adobeFileInfo struct {
	TransientDocumentID string `json:"transientDocumentId"`
}

type adobePostSignOption struct {
	RedirectURL string `json:"redirectUrl"`
}

type adobeExternalID struct {
	ID string `json:"id"`
}

type adobeAgreementRequest struct {
	FileInfos           []adobeFileInfo       `json:"fileInfos"`
	Name                string                `json:"name"`
	ParticipantSetsInfo []adobeParticipantSet `json:"participantSetsInfo"`
	SignatureType       string                `json:"signatureType"`
	State               string                `json:"state"`
	ExternalID          adobeExternalID       `json:"externalId"`
	PostSignOption      *adobePostSignOption  `json:"postSignOption,omitempty"`
}

type adobeAgreement struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	CreatedDate    string `json:"createdDate"`
	LastEventDate  string `json:"lastEventDate"`
	ExpirationTime string `json:"expirationTime"`
	SenderEmail    string `json:"senderEmail"`
}

type adobeSigningURL struct {
	Email    string `json:"email"`
	ESignURL string `json:"esignUrl"`
}

type adobeSigningURLs struct {
	SigningURLSetInfos []struct {
		SigningURLs []adobeSigningURL `json:"signingUrls"`
	} `json:"signingUrlSetInfos"`
}

// uploadTransient sends the document content as a transient document and
// returns its id.
func (a *AdobeSign) uploadTransient(ctx context.Context, token string, doc domain.Document) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("File-Name", doc.Title+".html"); err != nil {
		return "", err
	}
	if err := mw.WriteField("Mime-Type", "text/html"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("File", doc.Title+".html")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write([]byte(doc.Content)); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	body := buf.Bytes()
	contentType := mw.FormDataContentType()

	var out struct {
		TransientDocumentID string `json:"transientDocumentId"`
	}
	err = a.api.send(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/api/rest/v6/transientDocuments"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, false, &out)
	if err != nil {
		return "", fmt.Errorf("upload transient document: %w", err)
	}
	if out.TransientDocumentID == "" {
		return "", fmt.Errorf("%w: transient document id missing", domain.ErrProviderUnavailable)
	}
	return out.TransientDocumentID, nil
}

func (a *AdobeSign) Initiate(ctx context.Context, in InitiateInput) (Initiation, error) {
	if err := requireContent(in.Document); err != nil {
		return Initiation{}, err
	}
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return Initiation{}, err
	}
	transientID, err := a.uploadTransient(ctx, token, in.Document)
	if err != nil {
		return Initiation{}, err
	}

	req := adobeAgreementRequest{
		FileInfos: []adobeFileInfo{{TransientDocumentID: transientID}},
		Name:      in.Document.Title,
		ParticipantSetsInfo: []adobeParticipantSet{{
			MemberInfos: []adobeMember{{Email: in.Signer.Email}},
			Order:       1,
			Role:        "SIGNER",
		}},
		SignatureType: "ESIGN",
		State:         "IN_PROCESS",
		ExternalID:    adobeExternalID{ID: in.SignatureID},
	}
	if in.ReturnURL != "" {
		req.PostSignOption = &adobePostSignOption{RedirectURL: in.ReturnURL}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := a.api.postJSON(ctx, a.endpoint("/api/rest/v6/agreements"), token, req, &created); err != nil {
		return Initiation{}, fmt.Errorf("create agreement: %w", err)
	}
	if created.ID == "" {
		return Initiation{}, fmt.Errorf("%w: agreement id missing", domain.ErrProviderUnavailable)
	}

	sent := a.now()
	out := Initiation{
		Status:      domain.StatusInProgress,
		ReferenceID: created.ID,
		Details: domain.SignatureDetails{
			Version:      domain.DetailsVersion,
			RemoteStatus: string(adobeOutForSignature),
			SentAt:       &sent,
			SignerEmail:  in.Signer.Email,
			SignerName:   in.Signer.FullName,
			Extra:        map[string]string{"transientDocumentId": transientID},
		},
	}

	// Signing URLs are generated asynchronously by the provider and may not
	// exist yet.
	if signURL, err := a.signingURL(ctx, token, created.ID, in.Signer.Email); err != nil {
		a.logger.Debug("signing url not ready", zap.String("agreement_id", created.ID), zap.Error(err))
	} else if signURL != "" {
		out.RedirectURL = signURL
		out.Details.SigningURL = signURL
	}
	return out, nil
}

func (a *AdobeSign) signingURL(ctx context.Context, token, agreementID, email string) (string, error) {
	var urls adobeSigningURLs
	if err := a.api.getJSON(ctx, a.endpoint("/api/rest/v6/agreements/"+url.PathEscape(agreementID)+"/signingUrls"), token, &urls); err != nil {
		return "", err
	}
	first := ""
	for _, set := range urls.SigningURLSetInfos {
		for _, u := range set.SigningURLs {
			if strings.EqualFold(u.Email, email) {
				return u.ESignURL, nil
			}
			if first == "" {
				first = u.ESignURL
			}
		}
	}
	return first, nil
}

func (a *AdobeSign) agreement(ctx context.Context, sig domain.Signature) (adobeAgreement, error) {
	if sig.ProviderReferenceID == nil || *sig.ProviderReferenceID == "" {
		return adobeAgreement{}, fmt.Errorf("%w: signature %s has no agreement", domain.ErrInvalidState, sig.ID)
	}
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return adobeAgreement{}, err
	}
	var ag adobeAgreement
	if err := a.api.getJSON(ctx, a.endpoint("/api/rest/v6/agreements/"+url.PathEscape(*sig.ProviderReferenceID)), token, &ag); err != nil {
		return adobeAgreement{}, fmt.Errorf("get agreement: %w", err)
	}
	return ag, nil
}

func (a *AdobeSign) CheckStatus(ctx context.Context, sig domain.Signature) (StatusReport, error) {
	ag, err := a.agreement(ctx, sig)
	if err != nil {
		return StatusReport{}, err
	}
	status, ok := adobeStatus(ag.Status).local()
	if !ok {
		a.logger.Warn("unknown agreement status", zap.String("status", ag.Status), zap.String("signature_id", sig.ID))
		status = sig.Status
	}
	return StatusReport{Status: status, Details: a.detailsOf(ag, status)}, nil
}

func (a *AdobeSign) GetDetails(ctx context.Context, sig domain.Signature) (domain.SignatureDetails, error) {
	ag, err := a.agreement(ctx, sig)
	if err != nil {
		return domain.SignatureDetails{}, err
	}
	status, _ := adobeStatus(ag.Status).local()
	return sig.Details.Merge(a.detailsOf(ag, status)), nil
}

func (a *AdobeSign) detailsOf(ag adobeAgreement, status domain.SignatureStatus) domain.SignatureDetails {
	det := domain.SignatureDetails{
		Version:      domain.DetailsVersion,
		RemoteStatus: ag.Status,
	}
	if status == domain.StatusCompleted {
		det.CompletedAt = parseRemoteTime(ag.LastEventDate)
	}
	if ag.ExpirationTime != "" {
		det.Extra = map[string]string{"expirationTime": ag.ExpirationTime}
	}
	return det
}
