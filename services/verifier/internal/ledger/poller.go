package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// StatusClient asks the chain whether a transaction reached a terminal
// state. ok=false means the chain still reports it pending (or the lookup
// timed out); the ledger row is left alone in that case.
type StatusClient interface {
	TransactionStatus(ctx context.Context, txID string) (obs ChainObservation, ok bool, err error)
}

// Poller periodically reconciles pending ledger rows against the chain.
// Confirmation is never awaited inside a request handler; this loop is
// the only place that blocks on the chain, and each lookup is bounded.
type Poller struct {
	recorder *Recorder
	store    Store
	chain    StatusClient
	log      *slog.Logger

	Interval      time.Duration
	LookupTimeout time.Duration
	BatchSize     int
}

func NewPoller(recorder *Recorder, store Store, chain StatusClient, log *slog.Logger) *Poller {
	return &Poller{
		recorder:      recorder,
		store:         store,
		chain:         chain,
		log:           log,
		Interval:      10 * time.Second,
		LookupTimeout: 5 * time.Second,
		BatchSize:     100,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	pending, err := p.store.ListPending(ctx, p.BatchSize)
	if err != nil {
		p.log.Error("listing pending transactions", "err", err)
		return
	}
	for _, t := range pending {
		if ctx.Err() != nil {
			return
		}
		lookupCtx, cancel := context.WithTimeout(ctx, p.LookupTimeout)
		obs, ok, err := p.chain.TransactionStatus(lookupCtx, t.TransactionHash)
		cancel()
		if err != nil {
			// Chain unavailable or lookup timed out: the row stays pending
			// and the next cycle retries. Never guess a terminal status.
			if !errors.Is(err, context.Canceled) {
				p.log.Warn("chain status lookup failed", "tx_hash", t.TransactionHash, "err", err)
			}
			continue
		}
		if !ok {
			continue
		}
		if err := p.recorder.Reconcile(ctx, t.TransactionHash, obs); err != nil {
			p.log.Error("reconciling transaction", "tx_hash", t.TransactionHash, "err", err)
		}
	}
}
