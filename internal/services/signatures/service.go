// Package signatures drives signature requests through the provider
// adapters and the signature state machine.
package signatures

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/adapters/providers"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/metrics"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
	"github.com/Houmeecl/xpres-sub000/internal/services/audit"
	"github.com/Houmeecl/xpres-sub000/internal/services/codes"
)

const maxCodeAttempts = 5

type Options struct {
	PublicBaseURL   string
	ProviderTimeout time.Duration
}

type Service struct {
	sigs     ports.SignatureRepository
	docs     ports.DocumentRepository
	registry *providers.Registry
	audit    *audit.Service
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

var _ ports.Signatures = (*Service)(nil)

func New(sigs ports.SignatureRepository, docs ports.DocumentRepository, registry *providers.Registry,
	auditSvc *audit.Service, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 30 * time.Second
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Service{
		sigs:     sigs,
		docs:     docs,
		registry: registry,
		audit:    auditSvc,
		opts:     opts,
		logger:   logger.With(zap.String("service", "signatures")),
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock overrides the clock used for detail timestamps and codes.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func failed(res ports.SignatureResult, err error) ports.SignatureResult {
	res.Success = false
	res.Err = err
	if res.Status == "" {
		res.Status = domain.StatusError
	}
	return res
}

// Initiate starts a signature. Failures never surface as a Go error: the
// result carries Status=error, a fresh signature id and the cause in Err.
// Exactly one audit entry is written per call.
func (s *Service) Initiate(ctx context.Context, req ports.InitiateRequest) ports.SignatureResult {
	res := s.initiate(ctx, uuid.NewString(), req)

	s.metrics.SignatureInitiated(string(res.Provider), string(res.Status))
	details := map[string]any{
		"signatureId": res.SignatureID,
		"status":      string(res.Status),
		"provider":    string(res.Provider),
		"type":        string(req.Type),
	}
	ev := audit.Event{Action: domain.ActionSignatureInitiated, Details: details, Request: req.Request}
	if req.UserID != 0 {
		uid := req.UserID
		ev.UserID = &uid
	}
	if req.DocumentID != 0 {
		did := req.DocumentID
		ev.DocumentID = &did
	}
	if !res.Success {
		ev.Severity = domain.SeverityError
		details["error"] = res.Err.Error()
		details["reason"] = domain.Reason(res.Err)
		s.logger.Warn("signature initiate failed", zap.String("signature_id", res.SignatureID), zap.Error(res.Err))
	}
	s.audit.LogSignature(ctx, ev)
	return res
}

func (s *Service) initiate(ctx context.Context, id string, req ports.InitiateRequest) ports.SignatureResult {
	res := ports.SignatureResult{SignatureID: id}

	provider, err := providers.Select(req.Type, req.Provider, s.registry.Configured)
	if err != nil {
		return failed(res, err)
	}
	res.Provider = provider
	if !req.Type.Valid() {
		return failed(res, fmt.Errorf("%w: unknown signature type %q", domain.ErrInvalidInput, req.Type))
	}
	adapter, err := s.registry.Lookup(provider)
	if err != nil {
		return failed(res, err)
	}
	if !adapter.Configured() {
		return failed(res, fmt.Errorf("%w: %s is not configured", domain.ErrProviderUnavailable, provider))
	}

	doc, err := s.docs.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return failed(res, err)
	}
	signer, err := s.docs.GetUser(ctx, req.UserID)
	if err != nil {
		return failed(res, err)
	}
	if !doc.HasContent() {
		return failed(res, fmt.Errorf("document %d: %w", doc.ID, domain.ErrDocumentHasNoContent))
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.opts.PublicBaseURL + "/signatures/" + id + "/return"
	} else if err := checkReturnURL(returnURL, s.opts.PublicBaseURL); err != nil {
		return failed(res, err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	start := time.Now()
	started, err := adapter.Initiate(pctx, providers.InitiateInput{
		SignatureID: id,
		Document:    doc,
		Signer:      signer,
		Type:        req.Type,
		ReturnURL:   returnURL,
	})
	cancel()
	s.metrics.ObserveProvider(string(provider), "initiate", time.Since(start))
	if err != nil {
		return failed(res, err)
	}

	now := s.now()
	sig := domain.Signature{
		ID:         id,
		DocumentID: doc.ID,
		UserID:     signer.ID,
		Provider:   provider,
		Type:       req.Type,
		Status:     started.Status,
		Details:    domain.SignatureDetails{}.Merge(started.Details),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if started.ReferenceID != "" {
		ref := started.ReferenceID
		sig.ProviderReferenceID = &ref
	}
	for attempt := 1; ; attempt++ {
		sig.VerificationCode = codes.GenerateCode(now)
		err = s.sigs.CreateSignature(ctx, sig)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateCode) || attempt >= maxCodeAttempts {
			// The remote envelope, if any, is orphaned; it expires on the provider side.
			return failed(res, fmt.Errorf("store signature: %w", err))
		}
	}

	res.Success = true
	res.Status = sig.Status
	res.RedirectURL = started.RedirectURL
	res.VerificationCode = sig.VerificationCode
	res.Details = sig.Details
	return res
}

// CheckStatus refreshes a signature from its provider. Terminal signatures
// are returned as stored. An adapter failure moves a live signature to error.
func (s *Service) CheckStatus(ctx context.Context, signatureID string) (domain.SignatureStatus, error) {
	sig, err := s.sigs.GetSignature(ctx, signatureID)
	if err != nil {
		return "", err
	}
	if sig.Status.Terminal() {
		return sig.Status, nil
	}
	adapter, err := s.registry.Lookup(sig.Provider)
	if err != nil {
		return "", err
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	start := time.Now()
	rep, err := adapter.CheckStatus(pctx, sig)
	cancel()
	s.metrics.ObserveProvider(string(sig.Provider), "check_status", time.Since(start))

	now := s.now()
	if err != nil {
		s.logger.Warn("provider status check failed",
			zap.String("signature_id", sig.ID), zap.String("provider", string(sig.Provider)), zap.Error(err))
		rep = providers.StatusReport{
			Status:  domain.StatusError,
			Details: domain.SignatureDetails{Error: err.Error()},
		}
	}
	rep.Details.LastChecked = &now

	next := rep.Status
	if !sig.Status.CanTransitionTo(next) {
		s.logger.Info("ignoring status regression",
			zap.String("signature_id", sig.ID), zap.String("from", string(sig.Status)), zap.String("to", string(next)))
		next = sig.Status
	}
	updated, err := s.sigs.UpdateSignature(ctx, sig.ID, next, rep.Details)
	if errors.Is(err, domain.ErrInvalidState) {
		// A concurrent writer got there first; report what is stored.
		cur, gerr := s.sigs.GetSignature(ctx, sig.ID)
		if gerr != nil {
			return "", gerr
		}
		return cur.Status, nil
	}
	if err != nil {
		return "", err
	}

	if updated.Status != sig.Status {
		uid, did := updated.UserID, updated.DocumentID
		sev := domain.SeverityInfo
		if updated.Status == domain.StatusError {
			sev = domain.SeverityError
		}
		s.audit.LogSignature(ctx, audit.Event{
			Action:     domain.ActionSignatureStatusCheck,
			Severity:   sev,
			UserID:     &uid,
			DocumentID: &did,
			Details: map[string]any{
				"signatureId":    updated.ID,
				"provider":       string(updated.Provider),
				"previousStatus": string(sig.Status),
				"status":         string(updated.Status),
			},
		})
	}
	return updated.Status, nil
}

// GetDetails returns the stored details merged with what the provider
// currently reports. Provider failures fall back to the stored bag.
func (s *Service) GetDetails(ctx context.Context, signatureID string) (domain.SignatureDetails, error) {
	sig, err := s.sigs.GetSignature(ctx, signatureID)
	if err != nil {
		return domain.SignatureDetails{}, err
	}
	adapter, err := s.registry.Lookup(sig.Provider)
	if err != nil {
		return sig.Details, nil
	}
	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	det, err := adapter.GetDetails(pctx, sig)
	if err != nil {
		s.logger.Warn("provider details failed", zap.String("signature_id", sig.ID), zap.Error(err))
		return sig.Details, nil
	}
	return sig.Details.Merge(det), nil
}

func (s *Service) CompleteEToken(ctx context.Context, signatureID string, proof ports.ETokenProof, rc *ports.RequestContext) ports.SignatureResult {
	return s.complete(ctx, signatureID, domain.ProviderEToken, rc,
		func(ctx context.Context, a providers.Adapter, sig domain.Signature) (providers.StatusReport, error) {
			c, ok := a.(providers.ETokenCompleter)
			if !ok {
				return providers.StatusReport{}, fmt.Errorf("%w: %s cannot complete etoken signatures", domain.ErrProviderUnavailable, a.Name())
			}
			return c.CompleteEToken(ctx, sig, proof)
		})
}

func (s *Service) CompleteSimple(ctx context.Context, signatureID string, imageData string, rc *ports.RequestContext) ports.SignatureResult {
	return s.complete(ctx, signatureID, domain.ProviderSimple, rc,
		func(ctx context.Context, a providers.Adapter, sig domain.Signature) (providers.StatusReport, error) {
			c, ok := a.(providers.ImageCompleter)
			if !ok {
				return providers.StatusReport{}, fmt.Errorf("%w: %s cannot complete image signatures", domain.ErrProviderUnavailable, a.Name())
			}
			return c.CompleteSimple(ctx, sig, imageData)
		})
}

type completeFunc func(ctx context.Context, a providers.Adapter, sig domain.Signature) (providers.StatusReport, error)

// complete runs a local completion and writes exactly one audit entry.
func (s *Service) complete(ctx context.Context, signatureID string, want domain.Provider, rc *ports.RequestContext, fn completeFunc) ports.SignatureResult {
	res, sig := s.completeWith(ctx, signatureID, want, fn)

	s.metrics.SignatureCompleted(string(want), string(res.Status))
	details := map[string]any{
		"signatureId": signatureID,
		"status":      string(res.Status),
		"provider":    string(want),
	}
	ev := audit.Event{Action: domain.ActionSignatureCompleted, Details: details, Request: rc}
	if sig.ID != "" {
		uid, did := sig.UserID, sig.DocumentID
		ev.UserID, ev.DocumentID = &uid, &did
	}
	if !res.Success {
		ev.Severity = domain.SeverityWarning
		if res.Status == domain.StatusError {
			ev.Severity = domain.SeverityError
		}
		details["error"] = res.Err.Error()
		details["reason"] = domain.Reason(res.Err)
	}
	s.audit.LogSignature(ctx, ev)
	return res
}

func (s *Service) completeWith(ctx context.Context, signatureID string, want domain.Provider, fn completeFunc) (ports.SignatureResult, domain.Signature) {
	res := ports.SignatureResult{SignatureID: signatureID, Provider: want}

	sig, err := s.sigs.GetSignature(ctx, signatureID)
	if err != nil {
		return failed(res, err), domain.Signature{}
	}
	res.Provider = sig.Provider
	res.VerificationCode = sig.VerificationCode
	// Refusals below leave the stored status untouched and report it.
	res.Status = sig.Status
	if sig.Provider != want {
		return failed(res, fmt.Errorf("signature %s uses %s: %w", sig.ID, sig.Provider, domain.ErrProviderMismatch)), sig
	}
	adapter, err := s.registry.Lookup(sig.Provider)
	if err != nil {
		return failed(res, err), sig
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	rep, err := fn(pctx, adapter, sig)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrInvalidState) {
			return failed(res, err), sig
		}
		now := s.now()
		if _, uerr := s.sigs.UpdateSignature(ctx, sig.ID, domain.StatusError, domain.SignatureDetails{Error: err.Error(), LastChecked: &now}); uerr != nil {
			s.logger.Error("record completion failure", zap.String("signature_id", sig.ID), zap.Error(uerr))
		}
		res.Status = domain.StatusError
		return failed(res, err), sig
	}

	updated, err := s.sigs.UpdateSignature(ctx, sig.ID, rep.Status, rep.Details)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			if cur, gerr := s.sigs.GetSignature(ctx, sig.ID); gerr == nil {
				res.Status = cur.Status
			}
			return failed(res, fmt.Errorf("signature %s: %w", sig.ID, err)), sig
		}
		res.Status = domain.StatusError
		return failed(res, err), sig
	}

	res.Success = true
	res.Status = updated.Status
	res.Details = updated.Details
	return res, updated
}

// VerifySignature resolves a signature by its own verification code. It does
// not consume the code.
func (s *Service) VerifySignature(ctx context.Context, code string) (ports.SignatureVerification, error) {
	code = codes.Normalize(code)
	sig, err := s.sigs.GetSignatureByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return ports.SignatureVerification{}, fmt.Errorf("%w: %s", domain.ErrInvalidCode, code)
	}
	if err != nil {
		return ports.SignatureVerification{}, err
	}
	if sig.Status != domain.StatusCompleted {
		return ports.SignatureVerification{Signature: sig}, fmt.Errorf("signature is %s: %w", sig.Status, domain.ErrNotCompleted)
	}
	doc, err := s.docs.GetDocument(ctx, sig.DocumentID)
	if err != nil {
		return ports.SignatureVerification{}, err
	}
	doc.Content = ""
	out := ports.SignatureVerification{IsValid: true, Signature: sig, Document: doc}
	if signer, err := s.docs.GetUser(ctx, sig.UserID); err == nil {
		out.Signer = signer
	} else {
		s.logger.Warn("signer not readable", zap.Int64("user_id", sig.UserID), zap.Error(err))
	}

	did := sig.DocumentID
	s.audit.LogDocument(ctx, audit.Event{
		Action:     domain.ActionSignatureVerified,
		DocumentID: &did,
		Details:    map[string]any{"signatureId": sig.ID, "provider": string(sig.Provider)},
	})
	return out, nil
}
