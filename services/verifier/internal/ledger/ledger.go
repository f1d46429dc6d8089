package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fairlens/fairlens/services/verifier/internal/attest"
	"github.com/fairlens/fairlens/services/verifier/internal/milestone"
)

var (
	ErrDuplicateTransaction = errors.New("transaction hash already recorded")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrMilestoneNotFound    = errors.New("milestone not found")
)

// TxType classifies what a chain transaction did.
type TxType string

const (
	TxPayment            TxType = "payment"
	TxMilestone          TxType = "milestone"
	TxVerification       TxType = "verification"
	TxContractDeployment TxType = "contract_deployment"
)

func ParseTxType(s string) (TxType, bool) {
	switch TxType(strings.ToLower(strings.TrimSpace(s))) {
	case TxPayment:
		return TxPayment, true
	case TxMilestone:
		return TxMilestone, true
	case TxVerification:
		return TxVerification, true
	case TxContractDeployment:
		return TxContractDeployment, true
	}
	return "", false
}

// TxStatus is one-directional: pending -> confirmed or pending -> failed,
// never reversed.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

func (s TxStatus) Terminal() bool { return s == TxConfirmed || s == TxFailed }

// Transaction is one append-only ledger row mirroring a chain-level state
// change. Identity is the transaction hash.
type Transaction struct {
	TransactionHash string          `json:"transaction_hash"`
	Type            TxType          `json:"transaction_type"`
	Status          TxStatus        `json:"status"`
	Amount          *uint64         `json:"amount,omitempty"`
	BlockNumber     *int64          `json:"block_number,omitempty"`
	GasUsed         *uint64         `json:"gas_used,omitempty"`
	GasPrice        *uint64         `json:"gas_price,omitempty"`
	FromAddress     string          `json:"from_address"`
	ToAddress       string          `json:"to_address"`
	ContractAddress string          `json:"contract_address,omitempty"`
	AppID           int64           `json:"app_id"`
	MilestoneIndex  *int64          `json:"milestone_index,omitempty"`
	AttestedStatus  attest.Status   `json:"attested_status,omitempty"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	RawTransaction  json.RawMessage `json:"raw_transaction,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ChainObservation is what the chain reported for one transaction.
type ChainObservation struct {
	Status        TxStatus
	BlockNumber   *int64
	GasUsed       *uint64
	GasPrice      *uint64
	ConfirmedAt   time.Time
	FailureReason string
}

// EventSink receives domain event notifications (webhook delivery).
// Implementations are best-effort and must not block reconciliation.
type EventSink interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// Store is the durable ledger + milestone state consumed by the Recorder
// and the HTTP handlers. The postgres implementation is PGStore.
type Store interface {
	// Insert adds a pending row; ErrDuplicateTransaction if the hash exists.
	// Uniqueness is enforced by the storage layer, not check-then-insert.
	Insert(ctx context.Context, t Transaction) error
	GetByHash(ctx context.Context, hash string) (Transaction, error)
	ListByApp(ctx context.Context, appID int64, limit int) ([]Transaction, error)
	ListPending(ctx context.Context, limit int) ([]Transaction, error)
	// MarkConfirmed / MarkFailed flip a pending row to its terminal state.
	// Returns false without error when the row was already terminal.
	MarkConfirmed(ctx context.Context, hash string, obs ChainObservation) (bool, error)
	MarkFailed(ctx context.Context, hash, reason string) (bool, error)

	GetMilestone(ctx context.Context, appID, index int64) (milestone.Milestone, error)
	SaveMilestone(ctx context.Context, m milestone.Milestone) error
	// LockMilestone serializes state changes for one (appID, index); the
	// returned func releases the lock. Different milestones proceed in
	// parallel.
	LockMilestone(ctx context.Context, appID, index int64) (func(), error)
}
