// Package statuspoller refreshes remote signatures in the background and
// sweeps overdue verification codes.
package statuspoller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

// StatusChecker refreshes one signature from its provider.
type StatusChecker interface {
	CheckStatus(ctx context.Context, signatureID string) (domain.SignatureStatus, error)
}

// CodeExpirer marks overdue active codes as expired.
type CodeExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

type Options struct {
	Workers  int
	Interval time.Duration
	// MinAge is how long a signature rests between polls.
	MinAge time.Duration
	Batch  int
}

type Poller struct {
	repo    ports.PollRepository
	checker StatusChecker
	expirer CodeExpirer
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a Poller. expirer may be nil.
func New(repo ports.PollRepository, checker StatusChecker, expirer CodeExpirer, opts Options, logger *zap.Logger) *Poller {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 50
	}
	return &Poller{
		repo:    repo,
		checker: checker,
		expirer: expirer,
		opts:    opts,
		logger:  logger.With(zap.String("component", "statuspoller")),
		now:     time.Now,
	}
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Run dispatches due signatures to the worker goroutines on every tick and
// blocks until ctx is cancelled and the workers have drained.
func (p *Poller) Run(ctx context.Context) {
	ids := make(chan string, p.opts.Workers)
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for id := range ids {
				p.check(ctx, idx, id)
			}
		}(i)
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(ids)
			wg.Wait()
			return
		case <-ticker.C:
			p.sweep(ctx)
			due, err := p.claim(ctx)
			if err != nil {
				p.logger.Warn("claim due polls", zap.Error(err))
				continue
			}
		dispatch:
			for _, id := range due {
				select {
				case ids <- id:
				case <-ctx.Done():
					break dispatch
				}
			}
		}
	}
}

// PollOnce runs one sweep and checks every due signature inline, returning
// how many were checked.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	p.sweep(ctx)
	due, err := p.claim(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range due {
		p.check(ctx, 0, id)
	}
	return len(due), nil
}

func (p *Poller) claim(ctx context.Context) ([]string, error) {
	return p.repo.ClaimDuePolls(ctx, p.opts.Batch, p.now().Add(-p.opts.MinAge))
}

func (p *Poller) check(ctx context.Context, worker int, id string) {
	status, err := p.checker.CheckStatus(ctx, id)
	if err != nil {
		p.logger.Warn("status poll failed", zap.Int("worker", worker), zap.String("signature_id", id), zap.Error(err))
		return
	}
	p.logger.Debug("status polled", zap.Int("worker", worker), zap.String("signature_id", id), zap.String("status", string(status)))
}

func (p *Poller) sweep(ctx context.Context) {
	if p.expirer == nil {
		return
	}
	n, err := p.expirer.ExpireOverdue(ctx)
	if err != nil {
		p.logger.Warn("expire overdue codes", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("expired overdue codes", zap.Int64("count", n))
	}
}
