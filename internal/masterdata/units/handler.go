package units

import (
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
	r.Get("/by-code/{code}", h.getByCode)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

type unitRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	units, total, err := h.service.List(r.Context(), shared.ParseListFilters(r))
	if err != nil {
		shared.RespondError(w, h.logger, "list units", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"units": units, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit id")
		return
	}
	unit, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, "get unit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) getByCode(w http.ResponseWriter, r *http.Request) {
	unit, err := h.service.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		shared.RespondError(w, h.logger, "get unit by code", err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	unit, err := h.service.Create(r.Context(), Unit{Code: req.Code, Name: req.Name})
	if err != nil {
		shared.RespondError(w, h.logger, "create unit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, unit)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit id")
		return
	}
	var req unitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.Update(r.Context(), id, Unit{Code: req.Code, Name: req.Name}); err != nil {
		shared.RespondError(w, h.logger, "update unit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		shared.RespondError(w, h.logger, "delete unit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
