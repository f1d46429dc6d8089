package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fairlens/fairlens/pkg/httpx"
	"github.com/fairlens/fairlens/services/verifier/internal/attest"
	"github.com/fairlens/fairlens/services/verifier/internal/chain"
	"github.com/fairlens/fairlens/services/verifier/internal/keymgr"
	"github.com/fairlens/fairlens/services/verifier/internal/ledger"
	"github.com/fairlens/fairlens/services/verifier/internal/milestone"
)

const defaultTxListLimit = 50

// chainGateway is the slice of the chain client the HTTP surface needs.
type chainGateway interface {
	ApplicationState(ctx context.Context, appID int64) (chain.AppState, error)
	SearchTransactions(ctx context.Context, appID int64, limit int) ([]json.RawMessage, error)
	Status(ctx context.Context) (chain.NodeStatus, error)
}

type server struct {
	signer   *attest.Service
	keys     *keymgr.Manager
	recorder *ledger.Recorder
	gateway  chainGateway
	network  string
	log      *slog.Logger
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "Not found", nil)
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Post("/attest", s.handleAttest)
		api.Post("/verify-attestation", s.handleVerifyAttestation)
		api.Get("/verifier/public-key", s.handlePublicKey)

		api.Post("/tx", s.handleRecordTransaction)
		api.Get("/tx/{hash}", s.handleGetTransaction)

		api.Route("/app/{appID}", func(app chi.Router) {
			app.Get("/state", s.handleAppState)
			app.Get("/transactions", s.handleAppTransactions)
			app.Post("/milestones/{index}/submit", s.handleSubmitProof)
			app.Get("/milestones/{index}", s.handleGetMilestone)
		})
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"verifier_pubkey": s.keys.PublicKeyHex(),
		"network":         s.network,
	}
	if st, err := s.gateway.Status(r.Context()); err == nil {
		resp["last_round"] = st.LastRound
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID          int64          `json:"app_id"`
		MilestoneIndex int64          `json:"milestone_index"`
		Status         string         `json:"status"`
		MilestoneHash  string         `json:"milestone_hash"`
		ProofHash      string         `json:"proof_hash"`
		Metadata       map[string]any `json:"metadata"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body", []string{err.Error()})
		return
	}
	status, _ := attest.ParseStatus(req.Status)
	att, err := s.signer.Create(attest.Claim{
		AppID:          req.AppID,
		MilestoneIndex: req.MilestoneIndex,
		Status:         status,
		MilestoneHash:  req.MilestoneHash,
		ProofHash:      req.ProofHash,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.log.Info("attestation created", "app_id", att.AppID, "index", att.MilestoneIndex, "status", att.Status)
	httpx.WriteJSON(w, http.StatusOK, att)
}

func (s *server) handleVerifyAttestation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
		PublicKey string `json:"public_key"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body", []string{err.Error()})
		return
	}
	result, err := attest.Verify(req.Message, req.Signature, req.PublicKey)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"public_key": s.keys.PublicKeyHex(),
		"algorithm":  "Ed25519",
	})
}

// handleRecordTransaction is the relay's report of a chain submission.
// Replaying a hash is benign: the row already exists and nothing changes.
func (s *server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionHash string          `json:"transaction_hash"`
		TransactionType string          `json:"transaction_type"`
		AppID           int64           `json:"app_id"`
		MilestoneIndex  *int64          `json:"milestone_index"`
		AttestedStatus  string          `json:"attested_status"`
		Amount          *uint64         `json:"amount"`
		FromAddress     string          `json:"from_address"`
		ToAddress       string          `json:"to_address"`
		ContractAddress string          `json:"contract_address"`
		RawTransaction  json.RawMessage `json:"raw_transaction"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body", []string{err.Error()})
		return
	}

	var details []string
	if strings.TrimSpace(req.TransactionHash) == "" {
		details = append(details, "transaction_hash is required")
	}
	txType, ok := ledger.ParseTxType(req.TransactionType)
	if !ok {
		details = append(details, "transaction_type must be one of payment, milestone, verification, contract_deployment")
	}
	if req.AppID <= 0 {
		details = append(details, "app_id must be a positive integer")
	}
	var attested attest.Status
	if req.AttestedStatus != "" {
		if attested, ok = attest.ParseStatus(req.AttestedStatus); !ok {
			details = append(details, "attested_status must be PASS or FAIL")
		}
	}
	if txType == ledger.TxVerification && attested == "" {
		details = append(details, "attested_status is required for verification transactions")
	}
	if len(details) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "Validation failed", details)
		return
	}

	t := ledger.Transaction{
		TransactionHash: strings.TrimSpace(req.TransactionHash),
		Type:            txType,
		Amount:          req.Amount,
		FromAddress:     req.FromAddress,
		ToAddress:       req.ToAddress,
		ContractAddress: req.ContractAddress,
		AppID:           req.AppID,
		MilestoneIndex:  req.MilestoneIndex,
		AttestedStatus:  attested,
		RawTransaction:  req.RawTransaction,
	}
	if err := s.recorder.Record(r.Context(), t); err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{
				"recorded":         false,
				"duplicate":        true,
				"transaction_hash": t.TransactionHash,
			})
			return
		}
		s.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"recorded":         true,
		"transaction_hash": t.TransactionHash,
	})
}

func (s *server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.recorder.Transaction(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (s *server) handleAppState(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "Invalid application id", nil)
		return
	}
	state, err := s.gateway.ApplicationState(r.Context(), appID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, state)
}

func (s *server) handleAppTransactions(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "Invalid application id", nil)
		return
	}
	limit := defaultTxListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	// source=chain asks the indexer instead of the local mirror.
	if r.URL.Query().Get("source") == "chain" {
		txns, err := s.gateway.SearchTransactions(r.Context(), appID, limit)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"app_id":       appID,
			"transactions": txns,
			"count":        len(txns),
		})
		return
	}

	txns, err := s.recorder.ListByApp(r.Context(), appID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"app_id":       appID,
		"transactions": txns,
		"count":        len(txns),
	})
}

func (s *server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	appID, index, err := parseMilestoneRef(r)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "Invalid milestone reference", nil)
		return
	}
	var req struct {
		ProofHash string `json:"proof_hash"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body", []string{err.Error()})
		return
	}
	if strings.TrimSpace(req.ProofHash) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Validation failed", []string{"proof_hash is required"})
		return
	}
	ms, err := s.recorder.SubmitProof(r.Context(), appID, index, strings.TrimSpace(req.ProofHash))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ms)
}

func (s *server) handleGetMilestone(w http.ResponseWriter, r *http.Request) {
	appID, index, err := parseMilestoneRef(r)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "Invalid milestone reference", nil)
		return
	}
	ms, err := s.recorder.Milestone(r.Context(), appID, index)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ms)
}

func parseAppID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "appID"), 10, 64)
}

func parseMilestoneRef(r *http.Request) (appID, index int64, err error) {
	appID, err = parseAppID(r)
	if err != nil {
		return 0, 0, err
	}
	index, err = strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil || index < 0 {
		return 0, 0, errors.New("milestone index must be a non-negative integer")
	}
	return appID, index, nil
}

func (s *server) writeDomainError(w http.ResponseWriter, err error) {
	var ve *attest.ValidationError
	var te *milestone.InvalidTransitionError
	switch {
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, "Validation failed", ve.Details)
	case errors.As(err, &te):
		httpx.WriteError(w, http.StatusConflict, te.Error(), nil)
	case errors.Is(err, ledger.ErrTransactionNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Transaction not found", nil)
	case errors.Is(err, ledger.ErrMilestoneNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Milestone not found", nil)
	case errors.Is(err, chain.ErrApplicationNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Application not found", nil)
	case errors.Is(err, chain.ErrChainUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "Chain gateway unavailable", nil)
	default:
		s.log.Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
