package categories

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/subtree", h.subtree)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

type categoryRequest struct {
	ParentID *int64 `json:"parent_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	categories, total, err := h.service.List(r.Context(), shared.ParseListFilters(r))
	if err != nil {
		shared.RespondError(w, h.logger, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": categories, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid category id")
		return
	}
	category, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, "get category", err)
		return
	}
	httpx.JSON(w, http.StatusOK, category)
}

func (h *Handler) subtree(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid category id")
		return
	}
	nodes, err := h.service.Subtree(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTreeTooDeep) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Tree Too Deep", err.Error())
			return
		}
		shared.RespondError(w, h.logger, "category subtree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": nodes})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	category, err := h.service.Create(r.Context(), Category{ParentID: req.ParentID, Code: req.Code, Name: req.Name})
	if err != nil {
		shared.RespondError(w, h.logger, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, category)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid category id")
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.Update(r.Context(), id, Category{ParentID: req.ParentID, Code: req.Code, Name: req.Name}); err != nil {
		shared.RespondError(w, h.logger, "update category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid category id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		shared.RespondError(w, h.logger, "delete category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
