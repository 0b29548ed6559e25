package shared

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// ParseListFilters reads the standard list query parameters.
func ParseListFilters(r *http.Request) ListFilters {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = DefaultPage
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = DefaultLimit
	}
	return ListFilters{
		Page:    page,
		Limit:   limit,
		Search:  r.URL.Query().Get("search"),
		SortBy:  r.URL.Query().Get("sort"),
		SortDir: r.URL.Query().Get("dir"),
	}
}

// RespondError maps master-data errors onto problem responses.
func RespondError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInUse):
		httpx.Problem(w, http.StatusConflict, "In Use", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidID), errors.Is(err, ErrRequiredField):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
