package http

import (
	"net/http"

	"gasto/internal/core"
	applog "gasto/internal/log"
	"gasto/internal/services"
)

// entryHandlers serves one entry kind; expenses and incomes share them.
type entryHandlers struct {
	server *Server
	repo   *services.EntryRepository
}

// list accepts ?month=YYYY-MM and ?category_id=
func (h *entryHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.EntryFilter{
		Month:      sanitizeInput(q.Get("month")),
		CategoryID: sanitizeInput(q.Get("category_id")),
	}

	entries, err := h.repo.FetchAll(r.Context(), filter)
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *entryHandlers) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.repo.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *entryHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in core.EntryInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidInput)
		return
	}
	in.Description = sanitizeInput(in.Description)

	m, err := h.repo.Add(r.Context(), in)
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpCreate, err)
		return
	}
	h.written(w, r, http.StatusCreated, applog.OpCreate, m)
}

func (h *entryHandlers) update(w http.ResponseWriter, r *http.Request) {
	var patch core.EntryPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidInput)
		return
	}
	patch.Description = sanitizePtr(patch.Description)

	m, err := h.repo.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpUpdate, err)
		return
	}
	h.written(w, r, http.StatusOK, applog.OpUpdate, m)
}

func (h *entryHandlers) delete(w http.ResponseWriter, r *http.Request) {
	m, err := h.repo.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpDelete, err)
		return
	}
	h.server.invalidate(r.Context())
	writeJSON(w, http.StatusOK, mutationBody{ID: m.ID, Queued: m.Queued})
}

// written answers a committed create or update with the stored record.
func (h *entryHandlers) written(w http.ResponseWriter, r *http.Request, status int, op string, m services.Mutation) {
	ctx := r.Context()
	h.server.invalidate(ctx)

	body := mutationBody{ID: m.ID, Queued: m.Queued}
	if e, err := h.repo.Load(ctx, m.ID); err == nil {
		body.Data = e
		applog.NewStructuredLogger(applog.FromContext(ctx).WithComponent(applog.ComponentEntries)).
			LogEntryChanged(ctx, op, string(h.repo.Kind()), e.ID, e.CategoryID, core.FormatAmount(e.Value), m.Queued)
	}
	writeJSON(w, status, body)
}
