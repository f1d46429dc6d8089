package milestone

import (
	"fmt"
	"strings"
	"time"
)

// Status is a milestone's lifecycle state. The lifecycle moves strictly
// forward except that a FAIL attestation returns a submitted milestone to
// pending for resubmission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusSubmitted:
		return StatusSubmitted, true
	case StatusApproved:
		return StatusApproved, true
	case StatusPaid:
		return StatusPaid, true
	}
	return "", false
}

// legal transitions, keyed by current state.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusPending},
	StatusApproved:  {StatusPaid},
	StatusPaid:      {},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an illegal lifecycle request. The
// milestone is left untouched.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid milestone transition %s -> %s", e.From, e.To)
}

// Milestone is one payable deliverable unit of a project.
type Milestone struct {
	AppID          int64      `json:"app_id"`
	Index          int64      `json:"index"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Amount         uint64     `json:"amount"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Status         Status     `json:"status"`
	SubmissionDate *time.Time `json:"submission_date,omitempty"`
	ApprovalDate   *time.Time `json:"approval_date,omitempty"`
	PaymentDate    *time.Time `json:"payment_date,omitempty"`
	BlockchainHash string     `json:"blockchain_hash,omitempty"`
	ProofHash      string     `json:"proof_hash,omitempty"`
	Documents      []string   `json:"documents,omitempty"`
}

// Submit records the contractor's proof submission: pending -> submitted.
func (m *Milestone) Submit(now time.Time, proofHash string) error {
	if !canTransition(m.Status, StatusSubmitted) {
		return &InvalidTransitionError{From: m.Status, To: StatusSubmitted}
	}
	now = clampTime(now, m.SubmissionDate)
	m.Status = StatusSubmitted
	m.SubmissionDate = &now
	m.ProofHash = proofHash
	return nil
}

// Approve applies a confirmed PASS attestation: submitted -> approved.
// txHash is the chain transaction that carried the attestation.
func (m *Milestone) Approve(now time.Time, txHash string) error {
	if !canTransition(m.Status, StatusApproved) {
		return &InvalidTransitionError{From: m.Status, To: StatusApproved}
	}
	now = clampTime(now, m.SubmissionDate)
	m.Status = StatusApproved
	m.ApprovalDate = &now
	m.BlockchainHash = txHash
	return nil
}

// Reject applies a confirmed FAIL attestation: submitted -> pending.
// Submission artifacts are cleared so the contractor can resubmit.
func (m *Milestone) Reject(now time.Time) error {
	if m.Status != StatusSubmitted {
		return &InvalidTransitionError{From: m.Status, To: StatusPending}
	}
	m.Status = StatusPending
	m.SubmissionDate = nil
	m.ProofHash = ""
	return nil
}

// MarkPaid applies a confirmed payment: approved -> paid. Returns true if
// the transition was applied, false if the milestone was already paid
// (a second confirmation is a no-op, not an error).
func (m *Milestone) MarkPaid(now time.Time, txHash string) (bool, error) {
	if m.Status == StatusPaid {
		return false, nil
	}
	if !canTransition(m.Status, StatusPaid) {
		return false, &InvalidTransitionError{From: m.Status, To: StatusPaid}
	}
	now = clampTime(now, m.ApprovalDate)
	m.Status = StatusPaid
	m.PaymentDate = &now
	m.BlockchainHash = txHash
	return true, nil
}

// clampTime keeps milestone timestamps monotonically non-decreasing even
// when chain confirmations arrive with skewed clocks.
func clampTime(now time.Time, floor *time.Time) time.Time {
	now = now.UTC()
	if floor != nil && now.Before(*floor) {
		return *floor
	}
	return now
}
