package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/pipeline"
	"github.com/harborline/manifest-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the batch inspection and control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the API surface consumed by the operations dashboard.
func newRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/batches", func(r chi.Router) {
		r.Get("/", handleListBatches(env))
		r.Route("/{batchID}", func(r chi.Router) {
			r.Get("/", handleGetBatch(env))
			r.Get("/logs", handleBatchLogs(env))
			r.Get("/audit", handleBatchAudit(env))
			r.Post("/confirm", handleConfirm(env))
			r.Post("/proceed", handleProceed(env))
			r.Post("/rerun", handleRerun(env))
			r.Post("/stop", handleStop(env))
		})
	})

	return r
}

func handleListBatches(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.BatchFilter{Stage: model.Stage(r.URL.Query().Get("stage"))}
		batches, err := env.Store.ListBatches(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, batches)
	}
}

func handleGetBatch(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := env.Store.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"batch":              batch,
			"needs_confirmation": batch.NeedsConfirmation(),
			"terminal":           batch.Stage.Terminal(),
			"mapping_proposal":   batch.Proposal,
			"last_error":         batch.LastError,
		})
	}
}

func handleBatchLogs(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := env.Store.ListStageLogs(r.Context(), chi.URLParam(r, "batchID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

func handleBatchAudit(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := env.Store.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if batch.Proposal == nil {
			writeError(w, http.StatusConflict, eris.New("batch has no mapping proposal to audit against"))
			return
		}

		auditor := pipeline.NewAuditor(env.Store, env.Catalog, cfg.Audit)
		result, err := auditor.Audit(r.Context(), batch, batch.Proposal)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleConfirm(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")

		var req struct {
			Mappings map[string]string `json:"mappings"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
				return
			}
		}

		var edited *model.MappingProposal
		if len(req.Mappings) > 0 {
			edited = &model.MappingProposal{
				FieldMappings:        make(map[string]model.FieldMapping, len(req.Mappings)),
				UnmappedSourceFields: make(map[string]float64),
				OverallConfidence:    1.0,
			}
			for field, header := range req.Mappings {
				edited.FieldMappings[field] = model.FieldMapping{
					SourceHeader: header,
					Confidence:   1.0,
					Source:       model.MappingSourceOperator,
				}
			}
		}

		if err := env.Orchestrator.Confirm(r.Context(), batchID, edited); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		if err := env.Orchestrator.Run(r.Context(), batchID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		respondBatchState(w, r, env, batchID)
	}
}

func handleProceed(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")
		if err := env.Orchestrator.Proceed(r.Context(), batchID); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		respondBatchState(w, r, env, batchID)
	}
}

func handleRerun(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")

		var req struct {
			Stage string `json:"stage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" {
			writeError(w, http.StatusBadRequest, eris.New("stage is required"))
			return
		}

		if err := env.Orchestrator.Rerun(r.Context(), batchID, model.Stage(req.Stage)); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		respondBatchState(w, r, env, batchID)
	}
}

func handleStop(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")
		if err := env.Orchestrator.Stop(r.Context(), batchID); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		respondBatchState(w, r, env, batchID)
	}
}

func respondBatchState(w http.ResponseWriter, r *http.Request, env *pipelineEnv, batchID string) {
	batch, err := env.Store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":           batch.ID,
		"stage":              batch.Stage,
		"needs_confirmation": batch.NeedsConfirmation(),
		"last_error":         batch.LastError,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
