package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the ledger engine.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics
	availGrp  singleflight.Group
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		metrics:   metrics,
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.LimitByIP(120, time.Minute)

	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Post("/batches", h.handleCreateBatch)
		r.Post("/fifo-reductions", h.handleReduceFifo)
		r.Post("/targeted-reductions", h.handleReduceTargeted)
		r.Post("/latest-batch", h.handleUpsertLatest)
		r.Get("/availability", h.handleAvailability)
	})
}

type unitPricePayload struct {
	UnitID int64           `json:"unit_id" validate:"required,gt=0"`
	Price  decimal.Decimal `json:"price"`
}

type createBatchRequest struct {
	ProductID      int64              `json:"product_id" validate:"required,gt=0"`
	LocationID     int64              `json:"location_id" validate:"required,gt=0"`
	BatchNumber    string             `json:"batch_number"`
	ProductionDate *time.Time         `json:"production_date"`
	MainQuantity   decimal.Decimal    `json:"main_quantity"`
	Prices         []unitPricePayload `json:"prices" validate:"required,min=1,dive"`
}

type reduceFifoRequest struct {
	ProductID     int64            `json:"product_id" validate:"required,gt=0"`
	LocationID    int64            `json:"location_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal  `json:"quantity"`
	UnitID        int64            `json:"unit_id" validate:"required,gt=0"`
	Force         bool             `json:"force"`
	FallbackPrice *decimal.Decimal `json:"fallback_price"`
}

type reduceTargetedRequest struct {
	EntryID        int64           `json:"entry_id"`
	BatchID        int64           `json:"batch_id"`
	UnitID         int64           `json:"unit_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	QuantityUnitID int64           `json:"quantity_unit_id"`
}

type upsertLatestRequest struct {
	ProductID      int64              `json:"product_id" validate:"required,gt=0"`
	LocationID     int64              `json:"location_id" validate:"required,gt=0"`
	BatchNumber    string             `json:"batch_number"`
	ProductionDate *time.Time         `json:"production_date"`
	MainQuantity   decimal.Decimal    `json:"main_quantity"`
	Prices         []unitPricePayload `json:"prices" validate:"dive"`
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	view, err := h.service.CreateBatch(r.Context(), CreateBatchInput{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		BatchNumber:    req.BatchNumber,
		ProductionDate: req.ProductionDate,
		MainQuantity:   req.MainQuantity,
		Prices:         toUnitPrices(req.Prices),
	})
	if err != nil {
		h.respondError(w, "create_batch", err)
		return
	}
	h.count("create_batch")
	httpx.JSON(w, http.StatusCreated, batchViewPayload(view))
}

func (h *Handler) handleReduceFifo(w http.ResponseWriter, r *http.Request) {
	var req reduceFifoRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.ReduceFifo(r.Context(), ReduceFifoInput{
		ProductID:     req.ProductID,
		LocationID:    req.LocationID,
		Quantity:      req.Quantity,
		UnitID:        req.UnitID,
		Force:         req.Force,
		FallbackPrice: req.FallbackPrice,
	})
	if err != nil {
		h.respondError(w, "reduce_fifo", err)
		return
	}
	h.count("reduce_fifo")
	batches := make([]map[string]any, 0, len(result.Batches))
	for _, b := range result.Batches {
		batches = append(batches, map[string]any{
			"batch_id":      b.BatchID,
			"batch_number":  b.BatchNumber,
			"main_quantity": b.MainQuantity,
			"quantity":      b.Quantity,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_reduced":    result.TotalReduced,
		"main_reduced":     result.MainReduced,
		"batches_affected": batches,
	})
}

func (h *Handler) handleReduceTargeted(w http.ResponseWriter, r *http.Request) {
	var req reduceTargetedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.EntryID == 0 && (req.BatchID == 0 || req.UnitID == 0) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entry_id or (batch_id, unit_id) required")
		return
	}

	var result TargetedResult
	var err error
	if req.EntryID != 0 {
		result, err = h.service.ReduceByEntry(r.Context(), ReduceByEntryInput{
			EntryID:        req.EntryID,
			Quantity:       req.Quantity,
			QuantityUnitID: req.QuantityUnitID,
		})
	} else {
		result, err = h.service.ReduceByBatchUnit(r.Context(), ReduceByBatchUnitInput{
			BatchID:        req.BatchID,
			UnitID:         req.UnitID,
			Quantity:       req.Quantity,
			QuantityUnitID: req.QuantityUnitID,
		})
	}
	if err != nil {
		h.respondError(w, "reduce_targeted", err)
		return
	}
	h.count("reduce_targeted")
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch_id":        result.BatchID,
		"main_reduced":    result.MainReduced,
		"entries_updated": result.EntriesUpdated,
	})
}

func (h *Handler) handleUpsertLatest(w http.ResponseWriter, r *http.Request) {
	var req upsertLatestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	view, err := h.service.UpsertLatestBatch(r.Context(), UpsertLatestInput{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		BatchNumber:    req.BatchNumber,
		ProductionDate: req.ProductionDate,
		MainQuantity:   req.MainQuantity,
		Prices:         toUnitPrices(req.Prices),
	})
	if err != nil {
		h.respondError(w, "upsert_latest", err)
		return
	}
	h.count("upsert_latest")
	httpx.JSON(w, http.StatusOK, batchViewPayload(view))
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id required")
		return
	}
	locationID, err := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if err != nil || locationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id required")
		return
	}
	var unitID int64
	if raw := r.URL.Query().Get("unit_id"); raw != "" {
		unitID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_id must be numeric")
			return
		}
	}

	// concurrent identical reads collapse to one query; the shared fetch is
	// detached from the first caller so its cancellation cannot fail the rest
	// of the flight
	fetchCtx := context.WithoutCancel(r.Context())
	key := strconv.FormatInt(productID, 10) + ":" + strconv.FormatInt(locationID, 10) + ":" + strconv.FormatInt(unitID, 10)
	v, err, _ := h.availGrp.Do(key, func() (any, error) {
		return h.service.ListAvailable(fetchCtx, productID, locationID, unitID)
	})
	if err != nil {
		h.respondError(w, "availability", err)
		return
	}
	views := v.([]BatchView)
	payload := make([]map[string]any, 0, len(views))
	for _, view := range views {
		payload = append(payload, batchViewPayload(view))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": payload})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *InsufficientStockError
	var missingPrice *MissingPriceError
	var missingConv *MissingConversionError
	switch {
	case errors.As(err, &insufficient):
		httpx.ProblemFields(w, http.StatusConflict, "Insufficient Stock", insufficient.Error(), map[string]any{
			"product_id":  insufficient.ProductID,
			"location_id": insufficient.LocationID,
			"unit_id":     insufficient.UnitID,
			"required":    insufficient.Required,
			"available":   insufficient.Available,
		})
	case errors.As(err, &missingPrice):
		httpx.ProblemFields(w, http.StatusUnprocessableEntity, "Missing Price", missingPrice.Error(), map[string]any{
			"product_id": missingPrice.ProductID,
			"unit_id":    missingPrice.UnitID,
		})
	case errors.As(err, &missingConv):
		httpx.ProblemFields(w, http.StatusUnprocessableEntity, "Missing Conversion", missingConv.Error(), map[string]any{
			"product_id": missingConv.ProductID,
			"unit_id":    missingConv.UnitID,
		})
	case errors.Is(err, ErrNoActiveBatch):
		httpx.Problem(w, http.StatusConflict, "No Active Batch", err.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrUnitNotFound),
		errors.Is(err, ErrBatchNotFound), errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoMainUnit), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("ledger operation failed", slog.String("op", op), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) count(op string) {
	if h.metrics != nil {
		h.metrics.CountLedgerOp(op)
	}
}

func toUnitPrices(payloads []unitPricePayload) []UnitPrice {
	prices := make([]UnitPrice, 0, len(payloads))
	for _, p := range payloads {
		prices = append(prices, UnitPrice{UnitID: p.UnitID, Price: p.Price})
	}
	return prices
}

func batchViewPayload(view BatchView) map[string]any {
	entries := make([]map[string]any, 0, len(view.Entries))
	for _, e := range view.Entries {
		entries = append(entries, map[string]any{
			"id":             e.ID,
			"unit_id":        e.UnitID,
			"quantity":       e.Quantity,
			"price_per_unit": e.PricePerUnit,
		})
	}
	b := view.Batch
	return map[string]any{
		"id":              b.ID,
		"product_id":      b.ProductID,
		"location_id":     b.LocationID,
		"batch_number":    b.BatchNumber,
		"production_date": b.ProductionDate,
		"deleted":         b.Deleted,
		"created_at":      b.CreatedAt,
		"entries":         entries,
	}
}
