// Package fairlens is a typed Go client for the FairLens verifier API.
package fairlens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Error is a non-2xx response from the verifier API.
type Error struct {
	StatusCode int
	Message    string
	Details    []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("fairlens sdk error: status=%d message=%s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	return c
}

// AttestationRequest is the claim sent to POST /api/attest.
type AttestationRequest struct {
	AppID          int64          `json:"app_id"`
	MilestoneIndex int64          `json:"milestone_index"`
	Status         string         `json:"status"`
	MilestoneHash  string         `json:"milestone_hash"`
	ProofHash      string         `json:"proof_hash,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Attestation is the verifier's signed claim.
type Attestation struct {
	AppID          int64  `json:"app_id"`
	MilestoneIndex int64  `json:"milestone_index"`
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	MilestoneHash  string `json:"milestone_hash"`
	ProofHash      string `json:"proof_hash"`
	VerifierPubkey string `json:"verifier_pubkey"`
	Message        string `json:"message"`
	Signature      string `json:"signature"`
	MetadataHash   string `json:"metadata_hash,omitempty"`
}

func (c *Client) CreateAttestation(ctx context.Context, req AttestationRequest) (*Attestation, error) {
	return doJSON[*Attestation](ctx, c, http.MethodPost, "/api/attest", req, false)
}

// VerifyResult is the outcome of a signature check.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (c *Client) VerifyAttestation(ctx context.Context, message, signature, publicKey string) (*VerifyResult, error) {
	body := map[string]string{"message": message, "signature": signature, "public_key": publicKey}
	return doJSON[*VerifyResult](ctx, c, http.MethodPost, "/api/verify-attestation", body, true)
}

func (c *Client) PublicKey(ctx context.Context) (string, error) {
	out, err := doJSON[*struct {
		PublicKey string `json:"public_key"`
		Algorithm string `json:"algorithm"`
	}](ctx, c, http.MethodGet, "/api/verifier/public-key", nil, true)
	if err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

// AppState mirrors the chain application's decoded global state.
type AppState struct {
	AppID       int64          `json:"app_id"`
	GlobalState map[string]any `json:"global_state"`
	Creator     string         `json:"creator"`
	CreatedAt   int64          `json:"created_at"`
}

func (c *Client) AppState(ctx context.Context, appID int64) (*AppState, error) {
	path := "/api/app/" + strconv.FormatInt(appID, 10) + "/state"
	return doJSON[*AppState](ctx, c, http.MethodGet, path, nil, true)
}

// Transaction is one ledger row.
type Transaction struct {
	TransactionHash string     `json:"transaction_hash"`
	TransactionType string     `json:"transaction_type"`
	Status          string     `json:"status"`
	Amount          *uint64    `json:"amount,omitempty"`
	BlockNumber     *int64     `json:"block_number,omitempty"`
	FromAddress     string     `json:"from_address"`
	ToAddress       string     `json:"to_address"`
	AppID           int64      `json:"app_id"`
	MilestoneIndex  *int64     `json:"milestone_index,omitempty"`
	AttestedStatus  string     `json:"attested_status,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TransactionsPage is the ledger's answer for one application.
type TransactionsPage struct {
	AppID        int64         `json:"app_id"`
	Transactions []Transaction `json:"transactions"`
	Count        int           `json:"count"`
}

func (c *Client) AppTransactions(ctx context.Context, appID int64, limit int) (*TransactionsPage, error) {
	path := "/api/app/" + strconv.FormatInt(appID, 10) + "/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return doJSON[*TransactionsPage](ctx, c, http.MethodGet, path, nil, true)
}

func (c *Client) Transaction(ctx context.Context, hash string) (*Transaction, error) {
	return doJSON[*Transaction](ctx, c, http.MethodGet, "/api/tx/"+url.PathEscape(hash), nil, true)
}

// RecordTransactionRequest reports a submitted chain transaction to the
// ledger. Safe to retry: replaying a hash is a benign duplicate.
type RecordTransactionRequest struct {
	TransactionHash string          `json:"transaction_hash"`
	TransactionType string          `json:"transaction_type"`
	AppID           int64           `json:"app_id"`
	MilestoneIndex  *int64          `json:"milestone_index,omitempty"`
	AttestedStatus  string          `json:"attested_status,omitempty"`
	Amount          *uint64         `json:"amount,omitempty"`
	FromAddress     string          `json:"from_address,omitempty"`
	ToAddress       string          `json:"to_address,omitempty"`
	ContractAddress string          `json:"contract_address,omitempty"`
	RawTransaction  json.RawMessage `json:"raw_transaction,omitempty"`
}

type RecordTransactionResult struct {
	Recorded        bool   `json:"recorded"`
	Duplicate       bool   `json:"duplicate"`
	TransactionHash string `json:"transaction_hash"`
}

func (c *Client) RecordTransaction(ctx context.Context, req RecordTransactionRequest) (*RecordTransactionResult, error) {
	return doJSON[*RecordTransactionResult](ctx, c, http.MethodPost, "/api/tx", req, true)
}

// Milestone is the reconciled milestone state.
type Milestone struct {
	AppID          int64      `json:"app_id"`
	Index          int64      `json:"index"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Amount         uint64     `json:"amount"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Status         string     `json:"status"`
	SubmissionDate *time.Time `json:"submission_date,omitempty"`
	ApprovalDate   *time.Time `json:"approval_date,omitempty"`
	PaymentDate    *time.Time `json:"payment_date,omitempty"`
	BlockchainHash string     `json:"blockchain_hash,omitempty"`
	ProofHash      string     `json:"proof_hash,omitempty"`
}

func (c *Client) SubmitProof(ctx context.Context, appID, index int64, proofHash string) (*Milestone, error) {
	path := "/api/app/" + strconv.FormatInt(appID, 10) + "/milestones/" + strconv.FormatInt(index, 10) + "/submit"
	return doJSON[*Milestone](ctx, c, http.MethodPost, path, map[string]string{"proof_hash": proofHash}, false)
}

func (c *Client) Milestone(ctx context.Context, appID, index int64) (*Milestone, error) {
	path := "/api/app/" + strconv.FormatInt(appID, 10) + "/milestones/" + strconv.FormatInt(index, 10)
	return doJSON[*Milestone](ctx, c, http.MethodGet, path, nil, true)
}

type Health struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	VerifierPubkey string `json:"verifier_pubkey"`
	Network        string `json:"network"`
	LastRound      int64  `json:"last_round,omitempty"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	return doJSON[*Health](ctx, c, http.MethodGet, "/health", nil, true)
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, body any, retryable bool) (T, error) {
	var zero T

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return zero, err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return zero, err
		}
		req.Header.Set("Accept", "application/json")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(ctx, c.retry, attempt)
				continue
			}
			return zero, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var out T
			if len(respBody) == 0 {
				return out, nil
			}
			if err := json.Unmarshal(respBody, &out); err != nil {
				return zero, err
			}
			return out, nil
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(ctx, c.retry, attempt)
			continue
		}
		return zero, parseAPIError(resp.StatusCode, respBody)
	}
	return zero, errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

func sleepWithBackoff(ctx context.Context, cfg RetryConfig, attempt int) {
	delay := cfg.BaseDelay * time.Duration(1<<(attempt-1))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func parseAPIError(status int, body []byte) error {
	apiErr := &Error{StatusCode: status, Message: http.StatusText(status)}
	var parsed struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.Details = parsed.Details
	}
	return apiErr
}
