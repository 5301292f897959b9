// Package memory keeps every repository in process memory. It backs the
// development mode of the server and the service tests, and mirrors the
// conditional-update semantics of the postgres adapter.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

type Store struct {
	mu         sync.Mutex
	documents  map[int64]domain.Document
	users      map[int64]domain.User
	signatures map[string]domain.Signature
	sigByCode  map[string]string
	links      []domain.DocumentSignatureLink
	lastPolled map[string]time.Time
	codes      map[string]domain.VerificationCode
	codeByVal  map[string]string
	audit      []domain.AuditLogEntry
	now        func() time.Time
}

var (
	_ ports.DocumentRepository  = (*Store)(nil)
	_ ports.SignatureRepository = (*Store)(nil)
	_ ports.CodeRepository      = (*Store)(nil)
	_ ports.AuditRepository     = (*Store)(nil)
	_ ports.PollRepository      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		documents:  make(map[int64]domain.Document),
		users:      make(map[int64]domain.User),
		signatures: make(map[string]domain.Signature),
		sigByCode:  make(map[string]string),
		lastPolled: make(map[string]time.Time),
		codes:      make(map[string]domain.VerificationCode),
		codeByVal:  make(map[string]string),
		now:        time.Now,
	}
}

// WithClock overrides the clock used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// PutDocument seeds a document.
func (s *Store) PutDocument(d domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[d.ID] = d
}

// PutUser seeds a user.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) GetDocument(_ context.Context, id int64) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return d, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

// Links returns the document links recorded so far.
func (s *Store) Links() []domain.DocumentSignatureLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DocumentSignatureLink(nil), s.links...)
}

func (s *Store) CreateSignature(_ context.Context, sig domain.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.sigByCode[sig.VerificationCode]; dup {
		return domain.ErrDuplicateCode
	}
	now := s.now()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now
	s.signatures[sig.ID] = sig
	s.sigByCode[sig.VerificationCode] = sig.ID
	s.links = append(s.links, domain.DocumentSignatureLink{DocumentID: sig.DocumentID, SignatureID: sig.ID, CreatedAt: now})
	return nil
}

func (s *Store) GetSignature(_ context.Context, id string) (domain.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatures[id]
	if !ok {
		return domain.Signature{}, domain.ErrSignatureNotFound
	}
	return sig, nil
}

func (s *Store) GetSignatureByCode(_ context.Context, code string) (domain.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sigByCode[code]
	if !ok {
		return domain.Signature{}, domain.ErrSignatureNotFound
	}
	return s.signatures[id], nil
}

func (s *Store) UpdateSignature(_ context.Context, id string, status domain.SignatureStatus, details domain.SignatureDetails) (domain.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatures[id]
	if !ok {
		return domain.Signature{}, domain.ErrSignatureNotFound
	}
	if !sig.Status.CanTransitionTo(status) {
		return sig, domain.ErrInvalidState
	}
	sig.Status = status
	sig.Details = sig.Details.Merge(details)
	sig.UpdatedAt = s.now()
	s.signatures[id] = sig
	return sig, nil
}

func (s *Store) ClaimDuePolls(_ context.Context, limit int, olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Signature
	for _, sig := range s.signatures {
		if !sig.Provider.Remote() || sig.Status.Terminal() {
			continue
		}
		if last, ok := s.lastPolled[sig.ID]; ok && !last.Before(olderThan) {
			continue
		}
		due = append(due, sig)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	now := s.now()
	ids := make([]string, 0, len(due))
	for _, sig := range due {
		s.lastPolled[sig.ID] = now
		ids = append(ids, sig.ID)
	}
	return ids, nil
}

func (s *Store) CreateCode(_ context.Context, code domain.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.codeByVal[code.VerificationCode]; dup {
		return domain.ErrDuplicateCode
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now()
	}
	s.codes[code.ID] = code
	s.codeByVal[code.VerificationCode] = code.ID
	return nil
}

func (s *Store) GetCode(_ context.Context, id string) (domain.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return domain.VerificationCode{}, domain.ErrCodeNotFound
	}
	return c, nil
}

func (s *Store) GetCodeByValue(_ context.Context, value string) (domain.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codeByVal[value]
	if !ok {
		return domain.VerificationCode{}, domain.ErrCodeNotFound
	}
	return s.codes[id], nil
}

func (s *Store) ListCodesByDocument(_ context.Context, documentID int64) ([]domain.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VerificationCode
	for _, c := range s.codes {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TransitionCode(_ context.Context, id string, from, to domain.CodeStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return false, domain.ErrCodeNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	s.codes[id] = c
	return true, nil
}

func (s *Store) RevokeCode(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return false, domain.ErrCodeNotFound
	}
	if c.Status == domain.CodeRevoked {
		return false, nil
	}
	c.Status = domain.CodeRevoked
	s.codes[id] = c
	return true, nil
}

func (s *Store) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.codes {
		if c.Status == domain.CodeActive && c.Expired(now) {
			c.Status = domain.CodeExpired
			s.codes[id] = c
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertAuditLog(_ context.Context, e domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) SearchAuditLogs(_ context.Context, f ports.AuditFilter) ([]domain.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditLogEntry
	// newest first, as the postgres adapter orders
	for i := len(s.audit) - 1; i >= 0; i-- {
		if matches(f, s.audit[i]) {
			out = append(out, s.audit[i])
		}
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(f ports.AuditFilter, e domain.AuditLogEntry) bool {
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	if f.DocumentID != nil && (e.DocumentID == nil || *e.DocumentID != *f.DocumentID) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func (s *Store) AuditActivityStats(_ context.Context, from, to time.Time, topUsers int) (domain.ActivityStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.ActivityStats{
		From:       from,
		To:         to,
		ByCategory: map[domain.AuditCategory]int64{},
		BySeverity: map[domain.Severity]int64{},
		ByAction:   map[domain.ActionType]int64{},
		ByDay:      map[string]int64{},
	}
	perUser := map[int64]int64{}
	for _, e := range s.audit {
		if e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		stats.Total++
		stats.ByCategory[e.Category]++
		stats.BySeverity[e.Severity]++
		stats.ByAction[e.ActionType]++
		stats.ByDay[e.CreatedAt.UTC().Format("2006-01-02")]++
		if e.UserID != nil {
			perUser[*e.UserID]++
		}
	}
	for id, n := range perUser {
		stats.TopUsers = append(stats.TopUsers, domain.UserActivity{UserID: id, Count: n})
	}
	sort.Slice(stats.TopUsers, func(i, j int) bool {
		if stats.TopUsers[i].Count != stats.TopUsers[j].Count {
			return stats.TopUsers[i].Count > stats.TopUsers[j].Count
		}
		return stats.TopUsers[i].UserID < stats.TopUsers[j].UserID
	})
	if topUsers > 0 && len(stats.TopUsers) > topUsers {
		stats.TopUsers = stats.TopUsers[:topUsers]
	}
	return stats, nil
}
