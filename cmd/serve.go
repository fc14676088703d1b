package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seolytics/ranktrack/internal/engine"
	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only report API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeMux(newReporter(st)),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newServeMux(reporter *engine.Reporter) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/report", func(w http.ResponseWriter, r *http.Request) {
		result, ok := buildReport(w, r, reporter)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, result.Report)
	})

	mux.HandleFunc("GET /api/insights", func(w http.ResponseWriter, r *http.Request) {
		result, ok := buildReport(w, r, reporter)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, result.Insights)
	})

	return mux
}

// buildReport resolves the filter from query params and assembles the report.
// On failure it writes the error response and returns ok=false.
func buildReport(w http.ResponseWriter, r *http.Request, reporter *engine.Reporter) (engine.ReportResult, bool) {
	q := r.URL.Query()
	filter := store.BucketFilter{
		Client:  q.Get("client"),
		Domain:  q.Get("domain"),
		Keyword: q.Get("keyword"),
		From:    q.Get("from"),
		To:      q.Get("to"),
	}
	if filter.Client == "" && filter.Domain == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client or domain is required"})
		return engine.ReportResult{}, false
	}

	result, err := reporter.Report(r.Context(), filter)
	if err != nil {
		if model.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return engine.ReportResult{}, false
		}
		zap.L().Error("report request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return engine.ReportResult{}, false
	}
	return result, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
