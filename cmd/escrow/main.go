// cmd/escrow/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"bookyourshoot/internal/clients"
	"bookyourshoot/internal/config"
	"bookyourshoot/internal/deposit"
	"bookyourshoot/internal/dispute"
	"bookyourshoot/internal/escrow"
	"bookyourshoot/internal/telemetry"
	"bookyourshoot/pkg/statestore"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "escrow-core")
	if err != nil {
		log.WithError(err).Warn("tracing disabled")
	} else {
		defer shutdownTracing(context.Background())
	}

	store := statestore.NewStore(db)
	payments := clients.NewPaymentsClient(cfg.PaymentsURL)

	escrowSvc := escrow.NewService(store, db, payments, log, cfg.PlatformFeeRate, cfg.GracePeriod)
	depositSvc := deposit.NewService(store, db, payments, log, cfg.ReviewThreshold)
	disputeSvc := dispute.NewService(store, db, dispute.NewReadModelSubjects(db), log, cfg.DisputeSLA, cfg.DisputeWindow)

	scheduler := escrow.NewScheduler(escrowSvc, db, log, cfg.SweepInterval, cfg.GracePeriod)
	go scheduler.Run(ctx)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	// On-demand sweep, e.g. triggered on dashboard load.
	router.Post("/sweep", func(w http.ResponseWriter, r *http.Request) {
		released, err := scheduler.RunOnce(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"released": released})
	})
	router.Mount("/escrows", escrow.NewHandler(escrowSvc, log).Routes())
	router.Mount("/deposits", deposit.NewHandler(depositSvc, log).Routes())
	router.Mount("/disputes", dispute.NewHandler(disputeSvc, log).Routes())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("server shutdown failed")
		}
	}()

	log.WithField("port", cfg.Port).Info("starting escrow core service")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server exited")
	}
}
