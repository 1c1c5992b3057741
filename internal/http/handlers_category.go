package http

import (
	"net/http"

	"gasto/internal/core"
	applog "gasto/internal/log"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Categories.FetchAll(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in core.CategoryInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidInput)
		return
	}
	in.Name = sanitizeInput(in.Name)
	in.Icon = sanitizeInput(in.Icon)

	m, err := s.deps.Categories.Add(r.Context(), in)
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpCreate, err)
		return
	}
	s.invalidate(r.Context())

	body := mutationBody{ID: m.ID, Queued: m.Queued}
	if c, ok := s.deps.Categories.Get(m.ID); ok {
		body.Data = c
	}
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var patch core.CategoryPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidInput)
		return
	}
	patch.Name = sanitizePtr(patch.Name)
	patch.Icon = sanitizePtr(patch.Icon)

	id := r.PathValue("id")
	m, err := s.deps.Categories.Update(r.Context(), id, patch)
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpUpdate, err)
		return
	}
	s.invalidate(r.Context())

	body := mutationBody{ID: m.ID, Queued: m.Queued}
	if c, err := s.deps.Categories.Load(r.Context(), id); err == nil {
		body.Data = c
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Categories.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpDelete, err)
		return
	}
	s.invalidate(r.Context())
	writeJSON(w, http.StatusOK, mutationBody{ID: m.ID, Queued: m.Queued})
}
