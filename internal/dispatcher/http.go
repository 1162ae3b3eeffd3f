package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	judgemw "github.com/arbiter-oj/judge/internal/middleware"
	"github.com/arbiter-oj/judge/internal/job"
)

// Router builds the dispatcher's admin HTTP surface: health check, the
// merged language catalog, and the worker RPC upgrade endpoint.
func (d *Dispatcher) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(judgemw.Logger(logrus.StandardLogger()))
	r.Use(judgemw.Recovery(logrus.StandardLogger()))
	r.Use(judgemw.CORS())

	r.Get("/healthz", d.handleHealthz)
	r.Get("/languages", d.handleLanguages)
	r.Get("/rpc/worker", d.ServeWorkerRPC)

	// Ops-tooling surface for judgectl: submit an ad-hoc job and watch the
	// result stream, both backed by the same Enqueue/Subscribe interfaces
	// the in-process host application uses.
	r.Post("/jobs", d.handleSubmitJob)
	r.Get("/results", d.handleWatchResults)

	return r
}

func (d *Dispatcher) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (d *Dispatcher) handleLanguages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.Catalog()); err != nil {
		d.logger.WithError(err).Error("failed to encode language catalog")
	}
}

func (d *Dispatcher) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var j job.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
		return
	}

	if err := d.Enqueue(r.Context(), j); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"uuid": j.UUID})
}

// handleWatchResults streams newline-delimited JobResult JSON objects to the
// caller until it disconnects. It is a thin ops-facing adapter over
// Subscribe, not a general browser-facing broadcast surface.
func (d *Dispatcher) handleWatchResults(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	results, unsubscribe := d.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	for {
		select {
		case result, ok := <-results:
			if !ok {
				return
			}
			if err := encoder.Encode(result); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
