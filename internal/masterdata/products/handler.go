package products

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

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
	r.Get("/{id}/conversions", h.conversions)
	r.Put("/{id}/conversions", h.setConversions)
}

type productRequest struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	CategoryID *int64 `json:"category_id"`
	MainUnitID int64  `json:"main_unit_id"`
	IsActive   bool   `json:"is_active"`
}

type conversionPayload struct {
	UnitID int64           `json:"unit_id"`
	Factor decimal.Decimal `json:"factor"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := shared.ParseListFilters(r)
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.CategoryID = &id
		}
	}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active := raw == "true" || raw == "1"
		filters.IsActive = &active
	}

	products, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		shared.RespondError(w, h.logger, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	product, err := h.service.Create(r.Context(), Product{
		Code:       req.Code,
		Name:       req.Name,
		CategoryID: req.CategoryID,
		MainUnitID: req.MainUnitID,
		IsActive:   req.IsActive,
	})
	if err != nil {
		shared.RespondError(w, h.logger, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.Update(r.Context(), id, Product{
		Code:       req.Code,
		Name:       req.Name,
		CategoryID: req.CategoryID,
		MainUnitID: req.MainUnitID,
		IsActive:   req.IsActive,
	}); err != nil {
		shared.RespondError(w, h.logger, "update product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		shared.RespondError(w, h.logger, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) conversions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	convs, err := h.service.Conversions(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, "product conversions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"conversions": convs})
}

func (h *Handler) setConversions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req struct {
		Conversions []conversionPayload `json:"conversions"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	convs := make([]Conversion, 0, len(req.Conversions))
	for _, c := range req.Conversions {
		convs = append(convs, Conversion{UnitID: c.UnitID, Factor: c.Factor})
	}
	if err := h.service.SetConversions(r.Context(), id, convs); err != nil {
		shared.RespondError(w, h.logger, "set product conversions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
