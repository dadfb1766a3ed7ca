package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-docintel/internal/pipeline"
	"github.com/polisai/polis-docintel/pkg/domain"
	"github.com/polisai/polis-docintel/pkg/storage"
)

// processBody is the JSON form of a pipeline request. Content is base64 in
// JSON and takes precedence over DocumentRef. A DocumentRef is a gs:// or
// data: URI, or a path under sources.local_root.
type processBody struct {
	DocumentRef        string           `json:"documentRef"`
	Content            []byte           `json:"content"`
	MediaType          domain.MediaType `json:"mediaType"`
	DocumentType       string           `json:"documentType"`
	Classify           bool             `json:"classify"`
	ProductDescription string           `json:"productDescription"`
}

type classifyBody struct {
	Description string `json:"description"`
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// newHandler builds the HTTP surface of the app.
func newHandler(a *app) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", a.metrics.Handler())

	mux.HandleFunc("GET /v1/providers", func(w http.ResponseWriter, _ *http.Request) {
		a.sendJSON(w, http.StatusOK, a.registry.Snapshot())
	})

	mux.HandleFunc("POST /v1/process", func(w http.ResponseWriter, r *http.Request) {
		// base64 inflates content by a third; leave room for the envelope.
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.Pipeline.MaxDocumentBytes*4/3+64<<10)
		var body processBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.sendJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
			return
		}
		run, err := a.httpOrch.Process(r.Context(), pipeline.Request{
			DocumentRef:        body.DocumentRef,
			Bytes:              body.Content,
			MediaType:          body.MediaType,
			DocumentType:       body.DocumentType,
			Classify:           body.Classify,
			ProductDescription: body.ProductDescription,
		})
		if err != nil {
			a.sendError(w, err)
			return
		}
		a.sendJSON(w, http.StatusOK, run)
	})

	mux.HandleFunc("POST /v1/classify", func(w http.ResponseWriter, r *http.Request) {
		var body classifyBody
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
			a.sendJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
			return
		}
		res, err := a.httpOrch.Classify(r.Context(), body.Description)
		if err != nil {
			a.sendError(w, err)
			return
		}
		a.sendJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("GET /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		if a.store == nil {
			a.sendJSON(w, http.StatusNotFound, errorBody{Error: "run storage disabled"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := a.store.List(r.Context(), limit)
		if err != nil {
			a.sendError(w, err)
			return
		}
		a.sendJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if a.store == nil {
			a.sendJSON(w, http.StatusNotFound, errorBody{Error: "run storage disabled"})
			return
		}
		run, err := a.store.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			a.sendError(w, err)
			return
		}
		a.sendJSON(w, http.StatusOK, run)
	})

	return a.metrics.Middleware(otelhttp.NewHandler(mux, "docintel.http"))
}

func (a *app) sendError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		a.sendJSON(w, http.StatusUnprocessableEntity, errorBody{Error: ve.Reason, Field: ve.Field})
	case errors.Is(err, storage.ErrRunNotFound):
		a.sendJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		a.logger.Error("Request failed", "error", err)
		a.sendJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (a *app) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to write response", "error", err)
	}
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, a *app) error {
	server := &http.Server{
		Handler:      newHandler(a),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: a.cfg.Pipeline.CallTimeout*4 + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", a.cfg.Server.Address)
	if err != nil {
		return err
	}
	a.logger.Info("Server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Shutdown error", "error", err)
		return err
	}
	return nil
}
