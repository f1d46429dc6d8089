package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairlens/fairlens/services/verifier/internal/attest"
	"github.com/fairlens/fairlens/services/verifier/internal/milestone"
)

// Recorder owns the append-only mirror of chain transactions and drives
// milestone transitions off confirmed observations.
type Recorder struct {
	store  Store
	log    *slog.Logger
	now    func() time.Time
	events EventSink
}

func NewRecorder(store Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log, now: time.Now}
}

// SetEvents attaches an optional sink for state-change notifications.
func (r *Recorder) SetEvents(sink EventSink) { r.events = sink }

func (r *Recorder) emit(ctx context.Context, eventType string, payload any) {
	if r.events != nil {
		r.events.Emit(ctx, eventType, payload)
	}
}

// Record inserts a new pending row. A duplicate hash surfaces as
// ErrDuplicateTransaction; callers treat that as "already recorded".
func (r *Recorder) Record(ctx context.Context, t Transaction) error {
	if strings.TrimSpace(t.TransactionHash) == "" {
		return errors.New("transaction hash is required")
	}
	if _, ok := ParseTxType(string(t.Type)); !ok {
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
	if err := r.store.Insert(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			r.log.Info("transaction already recorded", "tx_hash", t.TransactionHash)
		}
		return err
	}
	r.log.Info("transaction recorded", "tx_hash", t.TransactionHash, "type", t.Type, "app_id", t.AppID)
	return nil
}

// Reconcile moves a pending row to its terminal state from a chain
// observation and applies the milestone transition implied by the row's
// type. Reconciling an already-terminal row is a no-op.
func (r *Recorder) Reconcile(ctx context.Context, hash string, obs ChainObservation) error {
	t, err := r.store.GetByHash(ctx, hash)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	if t.MilestoneIndex != nil {
		release, err := r.store.LockMilestone(ctx, t.AppID, *t.MilestoneIndex)
		if err != nil {
			return fmt.Errorf("locking milestone: %w", err)
		}
		defer release()
	}

	switch obs.Status {
	case TxConfirmed:
		applied, err := r.store.MarkConfirmed(ctx, hash, obs)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		r.log.Info("transaction confirmed", "tx_hash", hash, "block", obs.BlockNumber)
		r.emit(ctx, "transaction_confirmed", map[string]any{
			"transaction_hash": hash, "app_id": t.AppID, "block_number": obs.BlockNumber,
		})
		return r.applyMilestoneTransition(ctx, t, obs)
	case TxFailed:
		applied, err := r.store.MarkFailed(ctx, hash, obs.FailureReason)
		if err != nil {
			return err
		}
		if applied {
			r.log.Warn("transaction failed on chain", "tx_hash", hash, "reason", obs.FailureReason)
			r.emit(ctx, "transaction_failed", map[string]any{
				"transaction_hash": hash, "app_id": t.AppID, "reason": obs.FailureReason,
			})
		}
		return nil
	default:
		return fmt.Errorf("chain observation must be terminal, got %q", obs.Status)
	}
}

func (r *Recorder) applyMilestoneTransition(ctx context.Context, t Transaction, obs ChainObservation) error {
	if t.MilestoneIndex == nil {
		return nil
	}
	m, err := r.store.GetMilestone(ctx, t.AppID, *t.MilestoneIndex)
	if err != nil {
		if errors.Is(err, ErrMilestoneNotFound) {
			// The ledger row stays confirmed; the milestone mirror simply
			// has nothing to update.
			r.log.Warn("confirmed transaction references unknown milestone",
				"tx_hash", t.TransactionHash, "app_id", t.AppID, "index", *t.MilestoneIndex)
			return nil
		}
		return err
	}

	now := r.now().UTC()
	if !obs.ConfirmedAt.IsZero() {
		now = obs.ConfirmedAt.UTC()
	}

	switch t.Type {
	case TxVerification:
		switch t.AttestedStatus {
		case attest.StatusPass:
			err = m.Approve(now, t.TransactionHash)
		case attest.StatusFail:
			err = m.Reject(now)
		default:
			return fmt.Errorf("verification transaction %s has no attested status", t.TransactionHash)
		}
	case TxPayment:
		var applied bool
		applied, err = m.MarkPaid(now, t.TransactionHash)
		if err == nil && !applied {
			return nil
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("milestone transition for tx %s: %w", t.TransactionHash, err)
	}

	if err := r.store.SaveMilestone(ctx, m); err != nil {
		return err
	}
	r.log.Info("milestone transitioned", "app_id", m.AppID, "index", m.Index, "status", m.Status)
	r.emit(ctx, "milestone_updated", map[string]any{
		"app_id": m.AppID, "index": m.Index, "status": m.Status,
	})
	return nil
}

// SubmitProof records the contractor's submission for a milestone:
// pending -> submitted. This is an off-chain actor action, so it applies
// immediately rather than waiting for a confirmation.
func (r *Recorder) SubmitProof(ctx context.Context, appID, index int64, proofHash string) (milestone.Milestone, error) {
	release, err := r.store.LockMilestone(ctx, appID, index)
	if err != nil {
		return milestone.Milestone{}, fmt.Errorf("locking milestone: %w", err)
	}
	defer release()

	ms, err := r.store.GetMilestone(ctx, appID, index)
	if err != nil {
		return milestone.Milestone{}, err
	}
	if err := ms.Submit(r.now().UTC(), proofHash); err != nil {
		return milestone.Milestone{}, err
	}
	if err := r.store.SaveMilestone(ctx, ms); err != nil {
		return milestone.Milestone{}, err
	}
	r.log.Info("milestone proof submitted", "app_id", appID, "index", index)
	r.emit(ctx, "proof_submitted", map[string]any{
		"app_id": appID, "index": index, "proof_hash": proofHash,
	})
	return ms, nil
}

func (r *Recorder) Milestone(ctx context.Context, appID, index int64) (milestone.Milestone, error) {
	return r.store.GetMilestone(ctx, appID, index)
}

func (r *Recorder) Transaction(ctx context.Context, hash string) (Transaction, error) {
	return r.store.GetByHash(ctx, hash)
}

func (r *Recorder) ListByApp(ctx context.Context, appID int64, limit int) ([]Transaction, error) {
	return r.store.ListByApp(ctx, appID, limit)
}
