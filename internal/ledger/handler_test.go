package ledger

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// ctxSensitiveStore fails reads carried out under a canceled context, the way
// a real pool query would.
type ctxSensitiveStore struct{}

func (s *ctxSensitiveStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return ctx.Err()
}

func (s *ctxSensitiveStore) ListAvailable(ctx context.Context, productID, locationID int64) ([]BatchView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []BatchView{}, nil
}

func TestAvailabilitySurvivesCallerCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(&ctxSensitiveStore{}, nil, logger, nil)
	h := NewHandler(logger, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/availability?product_id=1&location_id=1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.handleAvailability(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "a canceled caller must not poison the shared fetch")
}
