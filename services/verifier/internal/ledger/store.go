package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairlens/fairlens/services/verifier/internal/attest"
	"github.com/fairlens/fairlens/services/verifier/internal/milestone"
)

const maxListLimit = 1000

type PGStore struct{ DB *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

func (s *PGStore) Insert(ctx context.Context, t Transaction) error {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO blockchain_transactions(
  transaction_hash,transaction_type,status,amount,block_number,gas_used,gas_price,
  from_address,to_address,contract_address,app_id,milestone_index,attested_status,
  failure_reason,raw_transaction
)
VALUES($1,$2,'pending',$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'',$13)
ON CONFLICT (transaction_hash) DO NOTHING
`, t.TransactionHash, string(t.Type), t.Amount, t.BlockNumber, t.GasUsed, t.GasPrice,
		t.FromAddress, t.ToAddress, t.ContractAddress, t.AppID, t.MilestoneIndex,
		string(t.AttestedStatus), t.RawTransaction)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, t.TransactionHash)
	}
	return nil
}

const txColumns = `
transaction_hash,transaction_type,status,amount,block_number,gas_used,gas_price,
from_address,to_address,contract_address,app_id,milestone_index,attested_status,
confirmed_at,failure_reason,raw_transaction,created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var typ, status, attested string
	err := row.Scan(&t.TransactionHash, &typ, &status, &t.Amount, &t.BlockNumber,
		&t.GasUsed, &t.GasPrice, &t.FromAddress, &t.ToAddress, &t.ContractAddress,
		&t.AppID, &t.MilestoneIndex, &attested, &t.ConfirmedAt, &t.FailureReason,
		&t.RawTransaction, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	t.Type = TxType(typ)
	t.Status = TxStatus(status)
	if st, ok := attest.ParseStatus(attested); ok {
		t.AttestedStatus = st
	}
	return t, nil
}

func (s *PGStore) GetByHash(ctx context.Context, hash string) (Transaction, error) {
	t, err := scanTransaction(s.DB.QueryRow(ctx,
		`SELECT `+txColumns+` FROM blockchain_transactions WHERE transaction_hash=$1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
	}
	return t, err
}

func (s *PGStore) ListByApp(ctx context.Context, appID int64, limit int) ([]Transaction, error) {
	rows, err := s.DB.Query(ctx, `
SELECT `+txColumns+`
FROM blockchain_transactions
WHERE app_id=$1
ORDER BY created_at DESC, transaction_hash DESC
LIMIT $2
`, appID, capLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *PGStore) ListPending(ctx context.Context, limit int) ([]Transaction, error) {
	rows, err := s.DB.Query(ctx, `
SELECT `+txColumns+`
FROM blockchain_transactions
WHERE status='pending'
ORDER BY created_at ASC
LIMIT $1
`, capLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkConfirmed(ctx context.Context, hash string, obs ChainObservation) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE blockchain_transactions
SET status='confirmed', block_number=$2, gas_used=$3, gas_price=$4, confirmed_at=$5
WHERE transaction_hash=$1 AND status='pending'
`, hash, obs.BlockNumber, obs.GasUsed, obs.GasPrice, obs.ConfirmedAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) MarkFailed(ctx context.Context, hash, reason string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE blockchain_transactions
SET status='failed', failure_reason=$2
WHERE transaction_hash=$1 AND status='pending'
`, hash, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) GetMilestone(ctx context.Context, appID, index int64) (milestone.Milestone, error) {
	var m milestone.Milestone
	var status string
	err := s.DB.QueryRow(ctx, `
SELECT app_id,milestone_index,title,description,amount,due_date,status,
       submission_date,approval_date,payment_date,blockchain_hash,proof_hash,documents
FROM milestones
WHERE app_id=$1 AND milestone_index=$2
`, appID, index).Scan(&m.AppID, &m.Index, &m.Title, &m.Description, &m.Amount,
		&m.DueDate, &status, &m.SubmissionDate, &m.ApprovalDate, &m.PaymentDate,
		&m.BlockchainHash, &m.ProofHash, &m.Documents)
	if errors.Is(err, pgx.ErrNoRows) {
		return milestone.Milestone{}, fmt.Errorf("%w: app %d index %d", ErrMilestoneNotFound, appID, index)
	}
	if err != nil {
		return milestone.Milestone{}, err
	}
	m.Status, _ = milestone.ParseStatus(status)
	return m, nil
}

func (s *PGStore) SaveMilestone(ctx context.Context, m milestone.Milestone) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO milestones(app_id,milestone_index,title,description,amount,due_date,status,
  submission_date,approval_date,payment_date,blockchain_hash,proof_hash,documents)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (app_id,milestone_index) DO UPDATE SET
  status=EXCLUDED.status,
  submission_date=EXCLUDED.submission_date,
  approval_date=EXCLUDED.approval_date,
  payment_date=EXCLUDED.payment_date,
  blockchain_hash=EXCLUDED.blockchain_hash,
  proof_hash=EXCLUDED.proof_hash,
  documents=EXCLUDED.documents
`, m.AppID, m.Index, m.Title, m.Description, m.Amount, m.DueDate, string(m.Status),
		m.SubmissionDate, m.ApprovalDate, m.PaymentDate, m.BlockchainHash, m.ProofHash, m.Documents)
	return err
}

// LockMilestone takes a session-level advisory lock on a dedicated
// connection so that transitions for one (appID, index) are serialized
// across all request handlers and the poller.
func (s *PGStore) LockMilestone(ctx context.Context, appID, index int64) (func(), error) {
	conn, err := s.DB.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1::text || ':' || $2::text))`, appID, index); err != nil {
		conn.Release()
		return nil, err
	}
	release := func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1::text || ':' || $2::text))`, appID, index)
		conn.Release()
	}
	return release, nil
}

func capLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
