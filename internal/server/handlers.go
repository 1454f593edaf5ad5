package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/micheldegeofroy/unidown/pkg/imagededup"
	"github.com/micheldegeofroy/unidown/pkg/listing"
	"github.com/micheldegeofroy/unidown/pkg/unify"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	listings, err := s.Store.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(listings)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	l, err := s.Store.Load(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(l)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Ingest.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type scrapeRequest struct {
	URL      string          `json:"url,omitempty"`
	Platform string          `json:"platform,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// handleScrape either runs a configured scraper against a URL or folds
// in a pre-scraped payload delivered by an external collaborator
// (browser extension, headless worker).
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req scrapeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", listing.ErrInvalidInput, err))
		return
	}

	if len(req.Payload) > 0 {
		scraped, err := listing.ParseScraped(req.Payload)
		if err != nil {
			s.writeError(w, err)
			return
		}
		stored, err := s.Ingest.Ingest(r.Context(), scraped)
		if err != nil {
			s.writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(stored)
		return
	}

	if req.URL == "" {
		s.writeError(w, fmt.Errorf("%w: url or payload required", listing.ErrInvalidInput))
		return
	}
	scraper, ok := s.Scrapers[req.Platform]
	if !ok {
		s.writeError(w, fmt.Errorf("%w: no scraper for platform %q", listing.ErrInvalidInput, req.Platform))
		return
	}
	stored, err := s.Ingest.ScrapeAndIngest(r.Context(), scraper, req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(stored)
}

type unifyRequest struct {
	LeftID        string          `json:"leftId"`
	RightID       string          `json:"rightId"`
	Title         string          `json:"title,omitempty"`
	Description   string          `json:"description,omitempty"`
	Images        []listing.Image `json:"images,omitempty"`
	DeleteSources bool            `json:"deleteSources,omitempty"`
}

// handleUnify delegates to the ingest orchestrator, which holds the
// locks of both sources (and the unified target) across merge and save.
// A lock held elsewhere surfaces as 409 via the error mapping.
func (s *Server) handleUnify(w http.ResponseWriter, r *http.Request) {
	var req unifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", listing.ErrInvalidInput, err))
		return
	}
	unified, err := s.Ingest.Unify(r.Context(), req.LeftID, req.RightID, unify.Edited{
		Title:       req.Title,
		Description: req.Description,
		Images:      req.Images,
	}, req.DeleteSources)
	if err != nil {
		s.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(unified)
}

type imagesRequest struct {
	Images    []listing.Image `json:"images"`
	Threshold float64         `json:"threshold,omitempty"`
	Strategy  string          `json:"strategy,omitempty"`
}

func (s *Server) strategyFor(req imagesRequest) (imagededup.Strategy, error) {
	return imagededup.StrategyByName(req.Strategy, s.Hash, s.Embedding)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req imagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", listing.ErrInvalidInput, err))
		return
	}
	strategy, err := s.strategyFor(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.Dedup.Analyze(req.Images, req.Threshold, strategy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleDedupe(w http.ResponseWriter, r *http.Request) {
	var req imagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", listing.ErrInvalidInput, err))
		return
	}
	strategy, err := s.strategyFor(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.Dedup.Dedupe(req.Images, req.Threshold, strategy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Index == nil {
		json.NewEncoder(w).Encode([]struct{}{})
		return
	}
	events, err := s.Index.RecentEvents(50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(events)
}
