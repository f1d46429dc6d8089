package fairlens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateAttestation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/attest" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"app_id":7410,"milestone_index":2,"status":"PASS","timestamp":1700000000,
			"milestone_hash":"QmHash","proof_hash":"","verifier_pubkey":"ab","message":"m","signature":"sig"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	att, err := c.CreateAttestation(context.Background(), AttestationRequest{
		AppID: 7410, MilestoneIndex: 2, Status: "PASS", MilestoneHash: "QmHash",
	})
	if err != nil {
		t.Fatalf("CreateAttestation: %v", err)
	}
	if att.AppID != 7410 || att.Signature != "sig" {
		t.Errorf("attestation = %+v", att)
	}
}

func TestValidationErrorSurfacesDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Validation failed","details":["milestone_hash is required"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.CreateAttestation(context.Background(), AttestationRequest{})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Validation failed" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if len(apiErr.Details) != 1 {
		t.Errorf("details = %v", apiErr.Details)
	}
}

func TestRetryOnServiceUnavailable(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"Chain gateway unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"public_key":"deadbeef","algorithm":"Ed25519"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	key, err := c.PublicKey(context.Background())
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if key != "deadbeef" {
		t.Errorf("key = %q", key)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNonRetryableRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"Chain gateway unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	_, err := c.CreateAttestation(context.Background(), AttestationRequest{AppID: 1, Status: "PASS", MilestoneHash: "h"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (attest must not be replayed)", calls.Load())
	}
}

func TestAppTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/app/7410/transactions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		fmt.Fprint(w, `{"app_id":7410,"transactions":[{"transaction_hash":"TX1","transaction_type":"payment","status":"confirmed","app_id":7410,"from_address":"","to_address":"","created_at":"2026-08-01T00:00:00Z"}],"count":1}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	page, err := c.AppTransactions(context.Background(), 7410, 5)
	if err != nil {
		t.Fatalf("AppTransactions: %v", err)
	}
	if page.Count != 1 || page.Transactions[0].TransactionHash != "TX1" {
		t.Errorf("page = %+v", page)
	}
}

func TestRecordTransactionDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"recorded":false,"duplicate":true,"transaction_hash":"TX1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.RecordTransaction(context.Background(), RecordTransactionRequest{
		TransactionHash: "TX1", TransactionType: "payment", AppID: 7410,
	})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if res.Recorded || !res.Duplicate {
		t.Errorf("result = %+v", res)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy","timestamp":"2026-08-29T00:00:00Z","verifier_pubkey":"ab","network":"testnet","last_round":41300}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" || h.LastRound != 41300 {
		t.Errorf("health = %+v", h)
	}
}
