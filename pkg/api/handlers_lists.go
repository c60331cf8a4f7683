package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dns-warden/pkg/hostname"
	"dns-warden/pkg/storage"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// pageParams extracts offset/limit query parameters with sane bounds.
func pageParams(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return offset, limit
}

// listPathParams validates the {source} and {list_type} path segments.
func (s *Server) listPathParams(w http.ResponseWriter, r *http.Request) (storage.Source, storage.ListType, bool) {
	source := r.PathValue("source")
	listType := r.PathValue("list_type")

	if !storage.ValidSource(source) {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown source %q", source))
		return "", "", false
	}
	if !storage.ValidListType(listType) {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown list type %q", listType))
		return "", "", false
	}
	return storage.Source(source), storage.ListType(listType), true
}

// handleGetDomains lists the entries of one (source, list_type) bucket.
// Expired llm entries are omitted.
func (s *Server) handleGetDomains(w http.ResponseWriter, r *http.Request) {
	source, listType, ok := s.listPathParams(w, r)
	if !ok {
		return
	}
	offset, limit := pageParams(r)

	filter := storage.EntryFilter{
		Source:   source,
		ListType: listType,
	}
	if source == storage.SourceLLM {
		now := time.Now().UTC()
		filter.ActiveAt = &now
	}

	entries, total, err := s.store.ListEntries(r.Context(), filter, offset, limit)
	if err != nil {
		s.logger.Error("Failed to list domains", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}

	resp := ListEntriesResponse{
		Domains: make([]ListEntryResponse, 0, len(entries)),
		Meta:    PageMeta{Total: total, Offset: offset, Limit: limit},
	}
	for _, e := range entries {
		resp.Domains = append(resp.Domains, convertListEntry(e))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type addDomainRequest struct {
	Domain string `json:"domain"`
}

// handleAddDomain creates a manual list entry. Manual entries never expire.
func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	listType := r.PathValue("list_type")
	if !storage.ValidListType(listType) {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown list type %q", listType))
		return
	}

	var req addDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	domain := hostname.Canonical(req.Domain)
	if !hostname.Valid(domain) {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid domain name %q", req.Domain))
		return
	}

	entry := &storage.ListEntry{
		Domain:   domain,
		ListType: storage.ListType(listType),
		Source:   storage.SourceManual,
	}

	err := s.store.InsertEntry(r.Context(), entry)
	if errors.Is(err, storage.ErrDuplicateDomain) {
		s.writeConflict(w, r, domain)
		return
	}
	if err != nil {
		s.logger.Error("Failed to insert domain", "domain", domain, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to add domain")
		return
	}

	s.logger.Info("Domain added", "domain", domain, "list", listType)
	w.WriteHeader(http.StatusNoContent)
}

// writeConflict reports which list and source already hold the domain.
func (s *Server) writeConflict(w http.ResponseWriter, r *http.Request, domain string) {
	existing, err := s.store.GetEntry(r.Context(), domain)
	if err != nil {
		// The conflicting entry vanished between insert and lookup.
		s.writeError(w, http.StatusConflict, fmt.Sprintf("Domain %s already exists", domain))
		return
	}
	s.writeError(w, http.StatusConflict, fmt.Sprintf(
		"Domain %s already exists in %s list with source %s",
		domain, existing.ListType, existing.Source,
	))
}

// handleDeleteDomain removes one entry, expired or not.
func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	source, listType, ok := s.listPathParams(w, r)
	if !ok {
		return
	}

	domain := hostname.Canonical(r.PathValue("domain"))

	err := s.store.DeleteEntry(r.Context(), domain, listType, source)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf(
			"Domain %s not found in %s %s list", domain, source, listType,
		))
		return
	}
	if err != nil {
		s.logger.Error("Failed to delete domain", "domain", domain, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete domain")
		return
	}

	s.logger.Info("Domain removed", "domain", domain, "list", listType, "source", source)
	w.WriteHeader(http.StatusNoContent)
}

// handleListStats returns active entry counts per (list_type, source).
func (s *Server) handleListStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ListStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to aggregate list stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	resp := ListStatsResponse{Stats: make([]ListStatResponse, 0, len(stats))}
	for _, st := range stats {
		resp.Stats = append(resp.Stats, ListStatResponse{
			ListType: string(st.ListType),
			Source:   string(st.Source),
			Count:    st.Count,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}
