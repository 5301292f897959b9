// Package codes issues and redeems verification codes: short, time-bounded
// tokens rendered as QR images that let a third party confirm a document or
// a signature, or hand signing over to a mobile device.
package codes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/config"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/metrics"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
	"github.com/Houmeecl/xpres-sub000/internal/qr"
	"github.com/Houmeecl/xpres-sub000/internal/services/audit"
)

// CodeLength is the number of hex characters in a generated code.
const CodeLength = 8

// maxCollisions bounds regeneration when a fresh code already exists.
const maxCollisions = 5

const (
	verifyPath = "/verificar/"
	mobilePath = "/sign-mobile/"
)

// GenerateCode hashes a random UUID with the current time and keeps the first
// CodeLength hex characters, upper-cased.
func GenerateCode(now time.Time) string {
	sum := sha256.Sum256([]byte(uuid.NewString() + strconv.FormatInt(now.UnixMilli(), 10)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:CodeLength]
}

// Normalize canonicalizes a code typed or scanned by a person.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type Options struct {
	PublicBaseURL string
	TTLs          config.CodeTTLs
	QRSize        int
}

type Service struct {
	codes   ports.CodeRepository
	sigs    ports.SignatureRepository
	docs    ports.DocumentRepository
	audit   *audit.Service
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
	render  func(data string, size int) ([]byte, error)
	now     func() time.Time
}

var _ ports.Codes = (*Service)(nil)

func New(codes ports.CodeRepository, sigs ports.SignatureRepository, docs ports.DocumentRepository,
	auditSvc *audit.Service, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.QRSize <= 0 {
		opts.QRSize = 300
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Service{
		codes:   codes,
		sigs:    sigs,
		docs:    docs,
		audit:   auditSvc,
		opts:    opts,
		logger:  logger.With(zap.String("service", "codes")),
		metrics: m,
		render:  qr.Render,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for expiry decisions.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) defaultTTL(t domain.CodeType) time.Duration {
	switch t {
	case domain.CodeSignatureVerification:
		return s.opts.TTLs.Signature
	case domain.CodeMobileSigning:
		return s.opts.TTLs.Mobile
	case domain.CodeAccessLink:
		return s.opts.TTLs.Access
	}
	return s.opts.TTLs.Document
}

// URL returns the public URL a code of type t resolves at.
func (s *Service) URL(t domain.CodeType, code string) string {
	if t == domain.CodeMobileSigning {
		return s.opts.PublicBaseURL + mobilePath + code
	}
	return s.opts.PublicBaseURL + verifyPath + code
}

// completedCapable reports whether a signature can still end up completed,
// or already is.
func completedCapable(st domain.SignatureStatus) bool {
	return st == domain.StatusPending || st == domain.StatusInProgress || st == domain.StatusCompleted
}

// resolve checks the request against the issuance flow and fills in the
// document of a signature-verification code.
func (s *Service) resolve(ctx context.Context, req *ports.IssueRequest) error {
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown code type %q", domain.ErrInvalidInput, req.Type)
	}
	if req.Type == domain.CodeSignatureVerification {
		if req.SignatureID == "" {
			return fmt.Errorf("%w: signature id required", domain.ErrInvalidInput)
		}
		sig, err := s.sigs.GetSignature(ctx, req.SignatureID)
		if err != nil {
			return err
		}
		if !completedCapable(sig.Status) {
			return fmt.Errorf("%w: signature is %s", domain.ErrInvalidState, sig.Status)
		}
		req.DocumentID = sig.DocumentID
	} else if req.SignatureID != "" {
		sig, err := s.sigs.GetSignature(ctx, req.SignatureID)
		if err != nil {
			return err
		}
		if sig.DocumentID != req.DocumentID {
			return fmt.Errorf("%w: signature %s belongs to another document", domain.ErrInvalidInput, sig.ID)
		}
	}
	if _, err := s.docs.GetDocument(ctx, req.DocumentID); err != nil {
		return err
	}
	if req.Type == domain.CodeMobileSigning {
		if req.UserID == 0 {
			return fmt.Errorf("%w: mobile signing codes bind to a user", domain.ErrInvalidInput)
		}
		if _, err := s.docs.GetUser(ctx, req.UserID); err != nil {
			return err
		}
	}
	if req.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", domain.ErrInvalidInput)
	}
	return nil
}

func (s *Service) Issue(ctx context.Context, req ports.IssueRequest) (ports.IssuedCode, error) {
	if err := s.resolve(ctx, &req); err != nil {
		return ports.IssuedCode{}, err
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.defaultTTL(req.Type)
	}
	size := req.Size
	if size <= 0 {
		size = s.opts.QRSize
	}

	now := s.now()
	rec := domain.VerificationCode{
		ID:         uuid.NewString(),
		DocumentID: req.DocumentID,
		CodeType:   req.Type,
		Status:     domain.CodeActive,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		Details:    req.Details,
	}
	if req.SignatureID != "" {
		id := req.SignatureID
		rec.SignatureID = &id
	}
	if req.UserID != 0 {
		uid := req.UserID
		rec.UserID = &uid
	}

	var (
		link string
		img  []byte
	)
	for attempt := 1; ; attempt++ {
		rec.VerificationCode = GenerateCode(now)
		link = s.URL(req.Type, rec.VerificationCode)
		var err error
		img, err = s.render(link, size)
		if err != nil {
			return ports.IssuedCode{}, fmt.Errorf("render qr: %w", err)
		}
		err = s.codes.CreateCode(ctx, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateCode) || attempt >= maxCollisions {
			return ports.IssuedCode{}, fmt.Errorf("store code: %w", err)
		}
		s.logger.Info("verification code collision, regenerating", zap.Int("attempt", attempt))
	}

	s.metrics.CodeIssued(string(req.Type))
	docID := req.DocumentID
	s.audit.LogDocument(ctx, audit.Event{
		Action:     domain.ActionCodeIssued,
		UserID:     rec.UserID,
		DocumentID: &docID,
		Details: map[string]any{
			"codeId":    rec.ID,
			"codeType":  string(rec.CodeType),
			"expiresAt": rec.ExpiresAt.UTC().Format(time.RFC3339),
		},
		Request: req.Request,
	})

	return ports.IssuedCode{
		CodeID:    rec.ID,
		Code:      rec.VerificationCode,
		URL:       link,
		Image:     img,
		ExpiresAt: rec.ExpiresAt,
		Type:      rec.CodeType,
	}, nil
}

var statusMessages = map[domain.CodeStatus]string{
	domain.CodeUsed:    "code already used",
	domain.CodeExpired: "code expired",
	domain.CodeRevoked: "code revoked",
}

func rejected(c domain.VerificationCode, st domain.CodeStatus) ports.Redemption {
	msg, ok := statusMessages[st]
	if !ok {
		msg = "code is not active"
	}
	return ports.Redemption{CodeType: c.CodeType, Reason: string(st), Error: msg}
}

// Redeem validates a code and applies its consumption policy. It never
// returns an error; failures are reported through IsValid and Reason.
func (s *Service) Redeem(ctx context.Context, code string, rc *ports.RequestContext) ports.Redemption {
	return s.RedeemAs(ctx, code, nil, rc)
}

// RedeemAs is Redeem restricted to the given code types. A code of any other
// type is reported as not_found and left untouched. An empty accept list
// allows every type.
func (s *Service) RedeemAs(ctx context.Context, code string, accept []domain.CodeType, rc *ports.RequestContext) ports.Redemption {
	code = Normalize(code)
	out, rec := s.redeem(ctx, code, accept)

	outcome := "valid"
	if !out.IsValid {
		outcome = out.Reason
	}
	s.metrics.CodeRedeemed(string(out.CodeType), outcome)

	ev := audit.Event{
		Action:  domain.ActionCodeRedeemed,
		Details: map[string]any{"code": code, "codeType": string(out.CodeType), "outcome": outcome},
		Request: rc,
	}
	if !out.IsValid {
		ev.Action = domain.ActionCodeRejected
		ev.Severity = domain.SeverityWarning
	}
	if rec.ID != "" {
		docID := rec.DocumentID
		ev.DocumentID = &docID
		ev.UserID = rec.UserID
		ev.Details["codeId"] = rec.ID
	}
	s.audit.LogDocument(ctx, ev)
	return out
}

func (s *Service) redeem(ctx context.Context, code string, accept []domain.CodeType) (ports.Redemption, domain.VerificationCode) {
	if len(code) != CodeLength {
		return ports.Redemption{Reason: "not_found", Error: "verification code not found"}, domain.VerificationCode{}
	}
	rec, err := s.codes.GetCodeByValue(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return ports.Redemption{Reason: "not_found", Error: "verification code not found"}, domain.VerificationCode{}
	}
	if err != nil {
		s.logger.Error("code lookup failed", zap.Error(err))
		return ports.Redemption{Reason: "error", Error: "verification failed"}, domain.VerificationCode{}
	}
	if len(accept) > 0 && !slices.Contains(accept, rec.CodeType) {
		return ports.Redemption{Reason: "not_found", Error: "verification code not found"}, rec
	}

	if rec.Status != domain.CodeActive {
		return rejected(rec, rec.Status), rec
	}

	if rec.Expired(s.now()) {
		// Losing this transition to a concurrent redeem or the sweep is fine.
		if _, err := s.codes.TransitionCode(ctx, rec.ID, domain.CodeActive, domain.CodeExpired); err != nil {
			s.logger.Warn("expire code failed", zap.String("code_id", rec.ID), zap.Error(err))
		}
		return rejected(rec, domain.CodeExpired), rec
	}

	if rec.CodeType.SingleUse() {
		won, err := s.codes.TransitionCode(ctx, rec.ID, domain.CodeActive, domain.CodeUsed)
		if err != nil {
			s.logger.Error("consume code failed", zap.String("code_id", rec.ID), zap.Error(err))
			return ports.Redemption{CodeType: rec.CodeType, Reason: "error", Error: "verification failed"}, rec
		}
		if !won {
			st := domain.CodeUsed
			if cur, err := s.codes.GetCode(ctx, rec.ID); err == nil && cur.Status != domain.CodeActive {
				st = cur.Status
			}
			return rejected(rec, st), rec
		}
	}

	out := ports.Redemption{
		IsValid:    true,
		CodeType:   rec.CodeType,
		DocumentID: rec.DocumentID,
		Details:    rec.Details,
	}
	if doc, err := s.docs.GetDocument(ctx, rec.DocumentID); err == nil {
		doc.Content = ""
		out.Document = &doc
	} else {
		s.logger.Warn("redeemed code has no readable document", zap.Int64("document_id", rec.DocumentID), zap.Error(err))
	}
	if rec.SignatureID != nil {
		out.SignatureID = *rec.SignatureID
		if sig, err := s.sigs.GetSignature(ctx, *rec.SignatureID); err == nil {
			out.Signature = &ports.SignatureSummary{Provider: sig.Provider, Type: sig.Type, Status: sig.Status}
		} else {
			s.logger.Warn("redeemed code has no readable signature", zap.String("signature_id", *rec.SignatureID), zap.Error(err))
		}
	}
	return out, rec
}

// Revoke retires a code permanently. Revoking twice returns domain.ErrRevoked.
func (s *Service) Revoke(ctx context.Context, codeID string, rc *ports.RequestContext) error {
	rec, err := s.codes.GetCode(ctx, codeID)
	if err != nil {
		return err
	}
	changed, err := s.codes.RevokeCode(ctx, codeID)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("code %s: %w", codeID, domain.ErrRevoked)
	}
	docID := rec.DocumentID
	s.audit.LogDocument(ctx, audit.Event{
		Action:     domain.ActionCodeRevoked,
		Severity:   domain.SeverityWarning,
		DocumentID: &docID,
		Details:    map[string]any{"codeId": codeID, "codeType": string(rec.CodeType), "previousStatus": string(rec.Status)},
		Request:    rc,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, codeID string) (domain.VerificationCode, error) {
	return s.codes.GetCode(ctx, codeID)
}

func (s *Service) ListForDocument(ctx context.Context, documentID int64) ([]domain.VerificationCode, error) {
	if _, err := s.docs.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	out, err := s.codes.ListCodesByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.VerificationCode{}
	}
	return out, nil
}

// ExpireOverdue moves every overdue active code to expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.codes.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.CodesExpired(n)
	return n, nil
}
