package statuspoller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/adapters/memory"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/workers/statuspoller"
)

type recordingChecker struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (c *recordingChecker) CheckStatus(_ context.Context, id string) (domain.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return domain.StatusInProgress, c.err
}

func (c *recordingChecker) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

type countingExpirer struct {
	mu    sync.Mutex
	calls int
}

func (e *countingExpirer) ExpireOverdue(context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return 1, nil
}

func seed(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	for i, p := range []domain.Provider{domain.ProviderDocuSign, domain.ProviderAdobeSign, domain.ProviderSimple} {
		require.NoError(t, store.CreateSignature(ctx, domain.Signature{
			ID:               string(p),
			DocumentID:       1,
			UserID:           1,
			Provider:         p,
			Type:             domain.SignatureAdvanced,
			Status:           domain.StatusInProgress,
			VerificationCode: []string{"AAAAAAAA", "BBBBBBBB", "CCCCCCCC"}[i],
		}))
	}
	require.NoError(t, store.CreateSignature(ctx, domain.Signature{
		ID: "done", DocumentID: 1, UserID: 1, Provider: domain.ProviderDocuSign,
		Type: domain.SignatureAdvanced, Status: domain.StatusCompleted, VerificationCode: "DDDDDDDD",
	}))
}

func TestPollOnce_ChecksDueRemoteSignatures(t *testing.T) {
	store := memory.New()
	seed(t, store)
	checker := &recordingChecker{}
	expirer := &countingExpirer{}
	p := statuspoller.New(store, checker, expirer, statuspoller.Options{MinAge: time.Hour}, zap.NewNop())

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"docusign", "adobe_sign"}, checker.seen())
	assert.Equal(t, 1, expirer.calls)

	n, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "claimed signatures rest for MinAge")
}

func TestPollOnce_CheckFailureDoesNotStopBatch(t *testing.T) {
	store := memory.New()
	seed(t, store)
	checker := &recordingChecker{err: errors.New("provider down")}
	p := statuspoller.New(store, checker, nil, statuspoller.Options{}, zap.NewNop())

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, checker.seen(), 2)
}

func TestRun_DispatchesUntilCancelled(t *testing.T) {
	store := memory.New()
	seed(t, store)
	checker := &recordingChecker{}
	p := statuspoller.New(store, checker, nil, statuspoller.Options{Workers: 2, Interval: 10 * time.Millisecond, MinAge: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(checker.seen()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, checker.seen(), 2)
}
