package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairlens/fairlens/pkg/db"
	"github.com/fairlens/fairlens/pkg/webhooks"
	"github.com/fairlens/fairlens/services/verifier/internal/attest"
	"github.com/fairlens/fairlens/services/verifier/internal/chain"
	"github.com/fairlens/fairlens/services/verifier/internal/config"
	"github.com/fairlens/fairlens/services/verifier/internal/keymgr"
	"github.com/fairlens/fairlens/services/verifier/internal/ledger"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("loading config", "err", err)
		os.Exit(1)
	}

	keys := loadKeys(cfg, log)

	pool := db.MustConnect(cfg.DatabaseURL)
	defer pool.Close()

	store := ledger.NewPGStore(pool)
	recorder := ledger.NewRecorder(store, log)
	if cfg.WebhookURL != "" {
		recorder.SetEvents(webhooks.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, log))
	}
	gateway := chain.New(chain.Config{
		AlgodURL:     cfg.AlgodURL,
		AlgodToken:   cfg.AlgodToken,
		IndexerURL:   cfg.IndexerURL,
		IndexerToken: cfg.IndexerToken,
		Timeout:      cfg.ChainTimeout,
	})

	poller := ledger.NewPoller(recorder, store, chainStatusAdapter{gateway}, log)
	poller.Interval = cfg.PollInterval
	poller.BatchSize = cfg.PollBatchSize

	s := &server{
		signer:   attest.NewService(keys),
		keys:     keys,
		recorder: recorder,
		gateway:  gateway,
		network:  cfg.Network,
		log:      log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go poller.Run(ctx)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: newRouter(s)}
	go func() {
		log.Info("verifier listening",
			"addr", cfg.ListenAddr, "network", cfg.Network, "pubkey", keys.PublicKeyHex())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

func loadKeys(cfg config.Config, log *slog.Logger) *keymgr.Manager {
	if cfg.VerifierSeed != "" {
		keys, err := keymgr.New(cfg.VerifierSeed)
		if err != nil {
			log.Error("loading verifier key", "err", err)
			os.Exit(1)
		}
		return keys
	}
	keys, err := keymgr.Generate()
	if err != nil {
		log.Error("generating verifier key", "err", err)
		os.Exit(1)
	}
	log.Warn("VERIFIER_SEED not set; using an ephemeral key", "pubkey", keys.PublicKeyHex())
	return keys
}

// chainStatusAdapter maps the gateway's transaction view onto the
// ledger's reconciliation contract.
type chainStatusAdapter struct {
	client *chain.Client
}

func (a chainStatusAdapter) TransactionStatus(ctx context.Context, txID string) (ledger.ChainObservation, bool, error) {
	st, err := a.client.TransactionStatus(ctx, txID)
	if err != nil {
		// Unknown to both pool and indexer: not yet visible, stay pending.
		if errors.Is(err, chain.ErrTransactionUnknown) {
			return ledger.ChainObservation{}, false, nil
		}
		return ledger.ChainObservation{}, false, err
	}
	if !st.Terminal() {
		return ledger.ChainObservation{}, false, nil
	}
	if st.PoolError != "" {
		return ledger.ChainObservation{Status: ledger.TxFailed, FailureReason: st.PoolError}, true, nil
	}
	round := st.ConfirmedRound
	return ledger.ChainObservation{
		Status:      ledger.TxConfirmed,
		BlockNumber: &round,
		ConfirmedAt: time.Now().UTC(),
	}, true, nil
}
