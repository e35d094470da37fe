package httpx

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/resto-pos/internal/app"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/go-chi/chi/v5"
	"log/slog"
	"net/http"
)

// ViewCache serves read models through a cache.
type ViewCache interface {
	Fetch(ctx context.Context, name string, fill func(ctx context.Context) (any, error)) (json.RawMessage, error)
}

type TablesHandler struct {
	Tables *app.TableService
	Views  *app.ViewService
	Cache  ViewCache // optional
	Log    *slog.Logger
}

type mergeReq struct {
	TargetID string `json:"target_id"`
}

func (h *TablesHandler) Register(r chi.Router) {
	withTimeout(r, func(r chi.Router) {
		r.Get("/tables", h.listTables)
		r.Get("/kitchen", h.kitchen)
		r.Post("/tables/{id}/occupy", h.transition(h.Tables.Occupy))
		r.Post("/tables/{id}/release", h.transition(h.Tables.Release))
		r.Post("/tables/{id}/reserve", h.transition(h.Tables.Reserve))
		r.Post("/tables/{id}/unreserve", h.transition(h.Tables.Unreserve))
		r.Post("/tables/{id}/split", h.transition(h.Tables.Split))
		r.Post("/tables/{id}/merge", h.merge)
	})
}

func (h *TablesHandler) transition(fn func(ctx context.Context, id string) (pos.Table, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, toTable(t))
	}
}

func (h *TablesHandler) merge(w http.ResponseWriter, r *http.Request) {
	var req mergeReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	t, err := h.Tables.Merge(r.Context(), chi.URLParam(r, "id"), req.TargetID)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTable(t))
}

func (h *TablesHandler) listTables(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, "tables", func(ctx context.Context) (any, error) {
		views, err := h.Views.Tables(ctx)
		if err != nil {
			return nil, err
		}
		return toTableViews(views), nil
	})
}

func (h *TablesHandler) kitchen(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, "kitchen", func(ctx context.Context) (any, error) {
		tickets, err := h.Views.Kitchen(ctx)
		if err != nil {
			return nil, err
		}
		return toKitchen(tickets), nil
	})
}

func (h *TablesHandler) view(w http.ResponseWriter, r *http.Request, name string, fill func(ctx context.Context) (any, error)) {
	if h.Cache == nil {
		v, err := fill(r.Context())
		if err != nil {
			writeDomainError(w, r, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}
	b, err := h.Cache.Fetch(r.Context(), name, fill)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
