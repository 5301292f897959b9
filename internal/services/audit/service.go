// Package audit records the append-only trail of trust-relevant actions.
// Entries go to the durable store; when that fails they are appended to a
// per-day JSON-lines file instead.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/metrics"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
	defaultStatsWindow = 30 * 24 * time.Hour
	topUsers           = 10
)

type Service struct {
	repo    ports.AuditRepository
	dir     string
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// fileMu serializes appends to the fallback file.
	fileMu sync.Mutex
}

var _ ports.AuditTrail = (*Service)(nil)

func New(repo ports.AuditRepository, fallbackDir string, logger *zap.Logger, m *metrics.Metrics) *Service {
	if fallbackDir == "" {
		fallbackDir = filepath.Join("logs", "audit")
	}
	return &Service{
		repo:    repo,
		dir:     fallbackDir,
		logger:  logger.With(zap.String("service", "audit")),
		metrics: m,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for entry timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Event is an audit entry without its category, for the wrappers below.
type Event struct {
	Action     domain.ActionType
	Severity   domain.Severity
	UserID     *int64
	DocumentID *int64
	Details    map[string]any
	Request    *ports.RequestContext
}

func (s *Service) LogDocument(ctx context.Context, ev Event) string {
	return s.logEvent(ctx, domain.CategoryDocument, ev)
}

func (s *Service) LogIdentity(ctx context.Context, ev Event) string {
	return s.logEvent(ctx, domain.CategoryIdentity, ev)
}

func (s *Service) LogSignature(ctx context.Context, ev Event) string {
	return s.logEvent(ctx, domain.CategorySignature, ev)
}

func (s *Service) LogUser(ctx context.Context, ev Event) string {
	return s.logEvent(ctx, domain.CategoryUser, ev)
}

func (s *Service) logEvent(ctx context.Context, category domain.AuditCategory, ev Event) string {
	entry := domain.AuditLogEntry{
		ActionType: ev.Action,
		Category:   category,
		Severity:   ev.Severity,
		UserID:     ev.UserID,
		DocumentID: ev.DocumentID,
		Details:    ev.Details,
	}
	if ev.Request != nil {
		entry.IPAddress = ev.Request.IPAddress
		entry.UserAgent = ev.Request.UserAgent
	}
	return s.Log(ctx, entry)
}

// Log records entry and returns its id. It never fails: a store error sends
// the entry to the fallback file, and a fallback error is only logged.
func (s *Service) Log(ctx context.Context, entry domain.AuditLogEntry) string {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = domain.SeverityInfo
	}

	if err := s.insert(ctx, entry); err != nil {
		s.logger.Warn("audit store write failed, using fallback file",
			zap.String("audit_id", entry.ID), zap.String("action", string(entry.ActionType)), zap.Error(err))
		s.fallback(entry, err)
	}
	return entry.ID
}

func (s *Service) insert(ctx context.Context, entry domain.AuditLogEntry) (err error) {
	if s.repo == nil {
		return fmt.Errorf("no audit store")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit store panic: %v", r)
		}
	}()
	return s.repo.InsertAuditLog(ctx, entry)
}

type fallbackRecord struct {
	Entry     domain.AuditLogEntry `json:"entry"`
	Error     string               `json:"error"`
	Timestamp time.Time            `json:"timestamp"`
}

// FallbackPath returns the fallback file used for entries written at t.
func (s *Service) FallbackPath(t time.Time) string {
	return filepath.Join(s.dir, "audit-"+t.UTC().Format("2006-01-02")+".log")
}

func (s *Service) fallback(entry domain.AuditLogEntry, cause error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("audit fallback panic", zap.Any("panic", r), zap.String("audit_id", entry.ID))
		}
	}()
	s.metrics.AuditFallback()

	now := s.now().UTC()
	line, err := json.Marshal(fallbackRecord{Entry: entry, Error: cause.Error(), Timestamp: now})
	if err != nil {
		// details may hold values json cannot encode
		entry.Details = map[string]any{"unencodable": fmt.Sprint(entry.Details)}
		line, err = json.Marshal(fallbackRecord{Entry: entry, Error: cause.Error(), Timestamp: now})
		if err != nil {
			s.logger.Error("audit fallback encode failed", zap.String("audit_id", entry.ID), zap.Error(err))
			return
		}
	}
	line = append(line, '\n')

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		s.logger.Error("audit fallback dir", zap.String("dir", s.dir), zap.Error(err))
		return
	}
	f, err := os.OpenFile(s.FallbackPath(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		s.logger.Error("audit fallback open", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		s.logger.Error("audit fallback write", zap.Error(err))
	}
}

// SearchLogs returns matching entries, newest first. Query failures yield an
// empty result.
func (s *Service) SearchLogs(ctx context.Context, filter ports.AuditFilter) []domain.AuditLogEntry {
	if filter.Limit <= 0 {
		filter.Limit = defaultSearchLimit
	}
	if filter.Limit > maxSearchLimit {
		filter.Limit = maxSearchLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if s.repo == nil {
		return []domain.AuditLogEntry{}
	}
	out, err := s.repo.SearchAuditLogs(ctx, filter)
	if err != nil {
		s.logger.Warn("audit search failed", zap.Error(err))
		return []domain.AuditLogEntry{}
	}
	if out == nil {
		out = []domain.AuditLogEntry{}
	}
	return out
}

// GetActivityStats aggregates entries in [from, to]. A zero to means now and
// a zero from means thirty days before to. Query failures yield zeroed stats.
func (s *Service) GetActivityStats(ctx context.Context, from, to time.Time) domain.ActivityStats {
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultStatsWindow)
	}
	if s.repo == nil {
		return emptyStats(from, to)
	}
	stats, err := s.repo.AuditActivityStats(ctx, from, to, topUsers)
	if err != nil {
		s.logger.Warn("audit stats failed", zap.Error(err))
		return emptyStats(from, to)
	}
	return stats
}

func emptyStats(from, to time.Time) domain.ActivityStats {
	return domain.ActivityStats{
		From:       from,
		To:         to,
		ByCategory: map[domain.AuditCategory]int64{},
		BySeverity: map[domain.Severity]int64{},
		ByAction:   map[domain.ActionType]int64{},
		ByDay:      map[string]int64{},
		TopUsers:   []domain.UserActivity{},
	}
}
