package milestone

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHappyPathLifecycle(t *testing.T) {
	m := &Milestone{AppID: 1234, Index: 0, Status: StatusPending, Amount: 50_000}

	if err := m.Submit(t0, "QmProof"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if m.Status != StatusSubmitted || m.SubmissionDate == nil {
		t.Fatalf("after Submit: status=%s submissionDate=%v", m.Status, m.SubmissionDate)
	}

	if err := m.Approve(t0.Add(time.Hour), "TX_VERIFY"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if m.Status != StatusApproved || m.BlockchainHash != "TX_VERIFY" {
		t.Fatalf("after Approve: status=%s hash=%s", m.Status, m.BlockchainHash)
	}

	applied, err := m.MarkPaid(t0.Add(2*time.Hour), "TX_PAY")
	if err != nil || !applied {
		t.Fatalf("MarkPaid: applied=%v err=%v", applied, err)
	}
	if m.Status != StatusPaid || m.PaymentDate == nil {
		t.Fatalf("after MarkPaid: status=%s paymentDate=%v", m.Status, m.PaymentDate)
	}
	if m.SubmissionDate.After(*m.ApprovalDate) || m.ApprovalDate.After(*m.PaymentDate) {
		t.Fatalf("timestamps must be non-decreasing")
	}
}

func TestMarkPaidIdempotent(t *testing.T) {
	m := &Milestone{Status: StatusApproved}
	applied, err := m.MarkPaid(t0, "TX_PAY")
	if err != nil || !applied {
		t.Fatalf("first MarkPaid: applied=%v err=%v", applied, err)
	}
	first := *m.PaymentDate

	applied, err = m.MarkPaid(t0.Add(time.Hour), "TX_PAY_2")
	if err != nil {
		t.Fatalf("second MarkPaid must not error: %v", err)
	}
	if applied {
		t.Fatalf("second MarkPaid must be a no-op")
	}
	if !m.PaymentDate.Equal(first) {
		t.Fatalf("payment date must be unchanged after second confirmation")
	}
	if m.BlockchainHash != "TX_PAY" {
		t.Fatalf("blockchain hash must be unchanged after second confirmation")
	}
}

func TestRejectReturnsToPendingAndClearsSubmission(t *testing.T) {
	m := &Milestone{Status: StatusPending}
	if err := m.Submit(t0, "QmBadProof"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Reject(t0.Add(time.Minute)); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if m.Status != StatusPending || m.SubmissionDate != nil || m.ProofHash != "" {
		t.Fatalf("Reject must clear submission artifacts: %+v", m)
	}

	// Resubmission is allowed after a rejection.
	if err := m.Submit(t0.Add(2*time.Minute), "QmBetterProof"); err != nil {
		t.Fatalf("resubmit after reject: %v", err)
	}
}

func TestIllegalTransitionsLeaveStateUntouched(t *testing.T) {
	m := &Milestone{Status: StatusPending}
	err := m.Approve(t0, "TX")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("approving a pending milestone: got %v, want InvalidTransitionError", err)
	}
	if ite.From != StatusPending || ite.To != StatusApproved {
		t.Fatalf("error detail: %+v", ite)
	}
	if m.Status != StatusPending || m.ApprovalDate != nil {
		t.Fatalf("state must be untouched after illegal request")
	}

	if _, err := m.MarkPaid(t0, "TX"); !errors.As(err, &ite) {
		t.Fatalf("paying a pending milestone: got %v", err)
	}
	if err := m.Reject(t0); !errors.As(err, &ite) {
		t.Fatalf("rejecting a pending milestone: got %v", err)
	}

	m.Status = StatusSubmitted
	if err := m.Submit(t0, "Qm"); !errors.As(err, &ite) {
		t.Fatalf("double submit: got %v", err)
	}
}

func TestClockSkewClamped(t *testing.T) {
	m := &Milestone{Status: StatusPending}
	if err := m.Submit(t0, "Qm"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Approval observed with an earlier wall clock than submission.
	if err := m.Approve(t0.Add(-time.Hour), "TX"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if m.ApprovalDate.Before(*m.SubmissionDate) {
		t.Fatalf("approval date must not precede submission date")
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus(" Paid "); !ok || s != StatusPaid {
		t.Fatalf("ParseStatus(Paid) = %v %v", s, ok)
	}
	if _, ok := ParseStatus("done"); ok {
		t.Fatalf("unknown status must not parse")
	}
}
