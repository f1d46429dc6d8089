package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrChainUnavailable    = errors.New("chain gateway unavailable")
	ErrApplicationNotFound = errors.New("application not found")
	ErrTransactionUnknown  = errors.New("transaction unknown to the chain")
)

// Client talks to an Algorand node (algod) and indexer over REST. It is
// the subsystem's only view of the chain: submit, status-by-hash, and
// application-state-by-id.
type Client struct {
	AlgodURL     string
	AlgodToken   string
	IndexerURL   string
	IndexerToken string
	HTTPClient   *http.Client
}

type Config struct {
	AlgodURL     string
	AlgodToken   string
	IndexerURL   string
	IndexerToken string
	Timeout      time.Duration
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		AlgodURL:     strings.TrimRight(cfg.AlgodURL, "/"),
		AlgodToken:   cfg.AlgodToken,
		IndexerURL:   strings.TrimRight(cfg.IndexerURL, "/"),
		IndexerToken: cfg.IndexerToken,
		HTTPClient:   &http.Client{Timeout: timeout},
	}
}

type NodeStatus struct {
	LastRound          int64 `json:"last_round"`
	TimeSinceLastRound int64 `json:"time_since_last_round"`
}

// Status reports node health for the /health endpoint.
func (c *Client) Status(ctx context.Context) (NodeStatus, error) {
	var raw struct {
		LastRound          int64 `json:"last-round"`
		TimeSinceLastRound int64 `json:"time-since-last-round"`
	}
	if err := c.getJSON(ctx, c.AlgodURL+"/v2/status", c.AlgodToken, "X-Algo-API-Token", &raw); err != nil {
		return NodeStatus{}, err
	}
	return NodeStatus{LastRound: raw.LastRound, TimeSinceLastRound: raw.TimeSinceLastRound}, nil
}

type AppState struct {
	AppID       int64          `json:"app_id"`
	GlobalState map[string]any `json:"global_state"`
	Creator     string         `json:"creator"`
	CreatedAt   int64          `json:"created_at"`
}

// ApplicationState looks the application up in the indexer and decodes
// its base64 global-state entries into a flat map.
func (c *Client) ApplicationState(ctx context.Context, appID int64) (AppState, error) {
	var raw struct {
		Application *struct {
			Creator        string `json:"creator"`
			CreatedAtRound int64  `json:"created-at-round"`
			Params         struct {
				GlobalState []struct {
					Key   string `json:"key"`
					Value struct {
						Type  int    `json:"type"`
						Bytes string `json:"bytes"`
						Uint  uint64 `json:"uint"`
					} `json:"value"`
				} `json:"global-state"`
			} `json:"params"`
		} `json:"application"`
	}
	u := fmt.Sprintf("%s/v2/applications/%d", c.IndexerURL, appID)
	if err := c.getJSON(ctx, u, c.IndexerToken, "X-Indexer-API-Token", &raw); err != nil {
		if errors.Is(err, errNotFound) {
			return AppState{}, fmt.Errorf("%w: %d", ErrApplicationNotFound, appID)
		}
		return AppState{}, err
	}
	if raw.Application == nil {
		return AppState{}, fmt.Errorf("%w: %d", ErrApplicationNotFound, appID)
	}

	state := map[string]any{}
	for _, entry := range raw.Application.Params.GlobalState {
		key, err := base64.StdEncoding.DecodeString(entry.Key)
		if err != nil {
			continue
		}
		switch entry.Value.Type {
		case 1: // bytes
			b, err := base64.StdEncoding.DecodeString(entry.Value.Bytes)
			if err != nil {
				continue
			}
			state[string(key)] = decodeStateBytes(b)
		case 2: // uint64
			state[string(key)] = entry.Value.Uint
		}
	}
	return AppState{
		AppID:       appID,
		GlobalState: state,
		Creator:     raw.Application.Creator,
		CreatedAt:   raw.Application.CreatedAtRound,
	}, nil
}

// SearchTransactions returns the indexer's view of an application's
// transactions, newest first, bounded by limit.
func (c *Client) SearchTransactions(ctx context.Context, appID int64, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("application-id", strconv.FormatInt(appID, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var raw struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	u := c.IndexerURL + "/v2/transactions?" + q.Encode()
	if err := c.getJSON(ctx, u, c.IndexerToken, "X-Indexer-API-Token", &raw); err != nil {
		return nil, err
	}
	if raw.Transactions == nil {
		raw.Transactions = []json.RawMessage{}
	}
	return raw.Transactions, nil
}

// SubmitRawTransaction posts a signed transaction blob to algod and
// returns the transaction ID. Confirmation is asynchronous; callers
// record the hash and let the reconciliation poller observe the result.
func (c *Client) SubmitRawTransaction(ctx context.Context, blob []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AlgodURL+"/v2/transactions", bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-binary")
	req.Header.Set("X-Algo-API-Token", c.AlgodToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("submitting transaction: http %d: %v", resp.StatusCode, errBody)
	}
	var out struct {
		TxID string `json:"txId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// TxState is the chain's answer for one transaction. Zero ConfirmedRound
// with empty PoolError means the chain still considers it pending.
type TxState struct {
	ConfirmedRound int64
	PoolError      string
}

func (s TxState) Terminal() bool { return s.ConfirmedRound > 0 || s.PoolError != "" }

// TransactionStatus asks algod's pending pool first, then falls back to
// the indexer for transactions that already left the pool.
func (c *Client) TransactionStatus(ctx context.Context, txID string) (TxState, error) {
	var pending struct {
		ConfirmedRound int64  `json:"confirmed-round"`
		PoolError      string `json:"pool-error"`
	}
	u := c.AlgodURL + "/v2/transactions/pending/" + url.PathEscape(txID)
	err := c.getJSON(ctx, u, c.AlgodToken, "X-Algo-API-Token", &pending)
	if err == nil {
		return TxState{ConfirmedRound: pending.ConfirmedRound, PoolError: pending.PoolError}, nil
	}
	if !errors.Is(err, errNotFound) {
		return TxState{}, err
	}

	// Not in the pool: the indexer knows it once it is in a block.
	var lookup struct {
		Transaction *struct {
			ConfirmedRound int64 `json:"confirmed-round"`
		} `json:"transaction"`
	}
	u = c.IndexerURL + "/v2/transactions/" + url.PathEscape(txID)
	err = c.getJSON(ctx, u, c.IndexerToken, "X-Indexer-API-Token", &lookup)
	if errors.Is(err, errNotFound) {
		return TxState{}, fmt.Errorf("%w: %s", ErrTransactionUnknown, txID)
	}
	if err != nil {
		return TxState{}, err
	}
	if lookup.Transaction == nil {
		return TxState{}, fmt.Errorf("%w: %s", ErrTransactionUnknown, txID)
	}
	return TxState{ConfirmedRound: lookup.Transaction.ConfirmedRound}, nil
}

var errNotFound = errors.New("not found")

func (c *Client) getJSON(ctx context.Context, u, token, tokenHeader string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("http %d: %v", resp.StatusCode, errBody)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// decodeStateBytes renders contract byte values as text when they are
// valid UTF-8 (addresses, IPFS hashes), hex otherwise.
func decodeStateBytes(b []byte) string {
	if utf8.Valid(b) {
		printable := true
		for _, r := range string(b) {
			if r < 0x20 && r != '\n' && r != '\t' {
				printable = false
				break
			}
		}
		if printable {
			return string(b)
		}
	}
	return fmt.Sprintf("%x", b)
}
