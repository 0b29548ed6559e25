package locations

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
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

type locationRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	locations, total, err := h.service.List(r.Context(), shared.ParseListFilters(r))
	if err != nil {
		shared.RespondError(w, h.logger, "list locations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": locations, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid location id")
		return
	}
	location, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, "get location", err)
		return
	}
	httpx.JSON(w, http.StatusOK, location)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	location, err := h.service.Create(r.Context(), Location{Code: req.Code, Name: req.Name, Address: req.Address})
	if err != nil {
		shared.RespondError(w, h.logger, "create location", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, location)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid location id")
		return
	}
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.Update(r.Context(), id, Location{Code: req.Code, Name: req.Name, Address: req.Address}); err != nil {
		shared.RespondError(w, h.logger, "update location", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid location id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		shared.RespondError(w, h.logger, "delete location", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
