package server

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/imagededup"
	"github.com/micheldegeofroy/unidown/pkg/ingest"
	"github.com/micheldegeofroy/unidown/pkg/listing"
	"github.com/micheldegeofroy/unidown/pkg/store"
)

// Server exposes the listing store, scrape flow, dedup and unification
// over HTTP. It owns no logic of its own: it parses requests, calls the
// engines and maps the error taxonomy onto status codes.
type Server struct {
	Store     *store.Store
	Index     *store.Index
	Ingest    *ingest.Orchestrator
	Dedup     *imagededup.Engine
	Hash      *imagededup.HashStrategy
	Embedding *imagededup.EmbeddingStrategy
	Scrapers  map[string]ingest.Scraper
	Static    string
	Log       *logrus.Logger
}

// Start blocks serving the API on addr.
func (s *Server) Start(addr string) error {
	s.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.routes())
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/listings", s.handleList)
	mux.HandleFunc("GET /api/listings/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/listings/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("POST /api/unify", s.handleUnify)
	mux.HandleFunc("POST /api/images/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/images/dedupe", s.handleDedupe)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.Handle("/downloads/", http.StripPrefix("/downloads/", http.FileServer(http.Dir(s.Store.Root()))))
	if s.Static != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.Static)))
	}
	return mux
}

// writeError maps the core error taxonomy onto transport status codes:
// lock conflicts are retryable 409s, disabled fingerprint backends are
// an explicit 503 rather than a generic failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, listing.ErrLockTimeout):
		http.Error(w, "listing is being updated, try again", http.StatusConflict)
	case errors.Is(err, listing.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, listing.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, listing.ErrCapabilityUnavailable):
		http.Error(w, "image similarity backend is disabled", http.StatusServiceUnavailable)
	default:
		s.Log.Errorf("Request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
