package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/adapters/memory"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
	"github.com/Houmeecl/xpres-sub000/internal/services/audit"
)

// failingRepo fails every call, or panics when panicky is set.
type failingRepo struct{ panicky bool }

func (r failingRepo) InsertAuditLog(context.Context, domain.AuditLogEntry) error {
	if r.panicky {
		panic("connection reset")
	}
	return errors.New("db down")
}

func (failingRepo) SearchAuditLogs(context.Context, ports.AuditFilter) ([]domain.AuditLogEntry, error) {
	return nil, errors.New("db down")
}

func (failingRepo) AuditActivityStats(context.Context, time.Time, time.Time, int) (domain.ActivityStats, error) {
	return domain.ActivityStats{}, errors.New("db down")
}

var fixedNow = time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

func TestLog_WritesToStore(t *testing.T) {
	store := memory.New()
	svc := audit.New(store, t.TempDir(), zap.NewNop(), nil).WithClock(func() time.Time { return fixedNow })

	id := svc.LogSignature(context.Background(), audit.Event{
		Action:     domain.ActionSignatureInitiated,
		UserID:     int64p(7),
		DocumentID: int64p(42),
		Details:    map[string]any{"status": "in_progress"},
		Request:    &ports.RequestContext{IPAddress: "10.0.0.1", UserAgent: "curl/8"},
	})
	require.NotEmpty(t, id)

	got := svc.SearchLogs(context.Background(), ports.AuditFilter{})
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, id, e.ID)
	assert.Equal(t, domain.CategorySignature, e.Category)
	assert.Equal(t, domain.SeverityInfo, e.Severity)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.Equal(t, fixedNow, e.CreatedAt)
}

func TestWrappers_BindCategory(t *testing.T) {
	store := memory.New()
	svc := audit.New(store, t.TempDir(), zap.NewNop(), nil)
	ctx := context.Background()

	svc.LogDocument(ctx, audit.Event{Action: domain.ActionDocumentVerified})
	svc.LogIdentity(ctx, audit.Event{Action: domain.ActionIdentityStarted})
	svc.LogUser(ctx, audit.Event{Action: domain.ActionUserLogin})

	for _, c := range []domain.AuditCategory{domain.CategoryDocument, domain.CategoryIdentity, domain.CategoryUser} {
		got := svc.SearchLogs(ctx, ports.AuditFilter{Category: c})
		assert.Len(t, got, 1, "category %s", c)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestLog_FallsBackToDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audit")
	svc := audit.New(failingRepo{}, dir, zap.NewNop(), nil).WithClock(func() time.Time { return fixedNow })

	id1 := svc.LogSignature(context.Background(), audit.Event{Action: domain.ActionSignatureCompleted, Details: map[string]any{"status": "completed"}})
	id2 := svc.LogDocument(context.Background(), audit.Event{Action: domain.ActionDocumentVerified})
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	path := filepath.Join(dir, "audit-2026-03-01.log")
	assert.Equal(t, path, svc.FallbackPath(fixedNow))
	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "db down", lines[0]["error"])
	assert.NotEmpty(t, lines[0]["timestamp"])
	entry := lines[0]["entry"].(map[string]any)
	assert.Equal(t, id1, entry["id"])
	assert.Equal(t, "signature", entry["category"])
}

func TestLog_StorePanicIsAbsorbed(t *testing.T) {
	dir := t.TempDir()
	svc := audit.New(failingRepo{panicky: true}, dir, zap.NewNop(), nil).WithClock(func() time.Time { return fixedNow })

	var id string
	assert.NotPanics(t, func() {
		id = svc.LogUser(context.Background(), audit.Event{Action: domain.ActionUserLogin})
	})
	assert.NotEmpty(t, id)
	assert.Len(t, readLines(t, svc.FallbackPath(fixedNow)), 1)
}

func TestLog_UnwritableFallbackDoesNotFail(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	// a regular file where the directory should be
	svc := audit.New(failingRepo{}, filepath.Join(blocker, "audit"), zap.NewNop(), nil)

	assert.NotPanics(t, func() {
		id := svc.LogSignature(context.Background(), audit.Event{Action: domain.ActionSignatureInitiated})
		assert.NotEmpty(t, id)
	})
}

func TestQueries_DegradeOnFailure(t *testing.T) {
	svc := audit.New(failingRepo{}, t.TempDir(), zap.NewNop(), nil).WithClock(func() time.Time { return fixedNow })

	logs := svc.SearchLogs(context.Background(), ports.AuditFilter{Limit: 10})
	assert.NotNil(t, logs)
	assert.Empty(t, logs)

	stats := svc.GetActivityStats(context.Background(), time.Time{}, time.Time{})
	assert.Zero(t, stats.Total)
	assert.Equal(t, fixedNow, stats.To)
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), stats.From)
	assert.NotNil(t, stats.ByCategory)
	assert.Empty(t, stats.TopUsers)
}

func TestGetActivityStats(t *testing.T) {
	store := memory.New()
	clock := fixedNow
	svc := audit.New(store, t.TempDir(), zap.NewNop(), nil).WithClock(func() time.Time { return clock })
	ctx := context.Background()

	svc.LogSignature(ctx, audit.Event{Action: domain.ActionSignatureInitiated, UserID: int64p(7)})
	svc.LogSignature(ctx, audit.Event{Action: domain.ActionSignatureCompleted, UserID: int64p(7)})
	clock = fixedNow.Add(24 * time.Hour)
	svc.LogDocument(ctx, audit.Event{Action: domain.ActionDocumentVerified, UserID: int64p(9), Severity: domain.SeverityWarning})

	stats := svc.GetActivityStats(ctx, fixedNow.Add(-time.Hour), fixedNow.Add(48*time.Hour))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByCategory[domain.CategorySignature])
	assert.Equal(t, int64(1), stats.BySeverity[domain.SeverityWarning])
	assert.Equal(t, int64(2), stats.ByDay["2026-03-01"])
	assert.Equal(t, int64(1), stats.ByDay["2026-03-02"])
	require.NotEmpty(t, stats.TopUsers)
	assert.Equal(t, domain.UserActivity{UserID: 7, Count: 2}, stats.TopUsers[0])
}

func TestSearchLogs_ClampsLimit(t *testing.T) {
	store := memory.New()
	svc := audit.New(store, t.TempDir(), zap.NewNop(), nil)
	for i := 0; i < 5; i++ {
		svc.LogUser(context.Background(), audit.Event{Action: domain.ActionUserLogin})
	}
	assert.Len(t, svc.SearchLogs(context.Background(), ports.AuditFilter{Limit: 2}), 2)
	assert.Len(t, svc.SearchLogs(context.Background(), ports.AuditFilter{Offset: 4}), 1)
}
