package errors_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/shared/testutil"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantDetail string
	}{
		{
			name:       "invalid trend",
			err:        apperrors.NewInvalidTrendError("quadratic", []string{"n", "c"}),
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeInvalidTrend,
			wantDetail: "Invalid trend: quadratic",
		},
		{
			name:       "missing securities",
			err:        apperrors.NewMissingSecuritiesError([]string{"TSLA"}),
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeValidation,
			wantDetail: "'TSLA'",
		},
		{
			name:       "wrapped parsing error keeps its cause",
			err:        fmt.Errorf("load: %w", apperrors.NewParsingError("failed to read body", fmt.Errorf("bare quote"))),
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeParsing,
			wantDetail: "failed to read body: bare quote",
		},
		{
			name:       "column not found",
			err:        apperrors.NewColumnNotFoundError("AAPL"),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apperrors.TypeColumnNotFound,
		},
		{
			name:       "numerical failure",
			err:        apperrors.NewNumericalError("singular matrix", nil),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apperrors.TypeNumerical,
		},
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("identify: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantType:   apperrors.TypeTimeout,
		},
		{
			name:       "body too large",
			err:        &http.MaxBytesError{Limit: 1024},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   apperrors.TypePayloadTooLarge,
			wantDetail: "1024 bytes",
		},
		{
			name:       "config errors are internal",
			err:        apperrors.NewConfigError("bad config", nil),
			wantStatus: http.StatusInternalServerError,
			wantType:   apperrors.TypeInternal,
		},
		{
			name:       "unknown error is opaque",
			err:        fmt.Errorf("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantType:   apperrors.TypeInternal,
			wantDetail: "unexpected error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			handler := apperrors.NewErrorHandler(logger, false)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/pairs", nil)
			r = r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, "req-1"))

			handler.HandleError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeProblem(t, w)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			assert.Equal(t, "/api/v1/pairs", body["instance"])
			assert.Equal(t, "req-1", body["request_id"])
			assert.NotContains(t, body, "stack")
			if tt.wantDetail != "" {
				assert.Contains(t, body["detail"], tt.wantDetail)
			}
			assert.True(t, logs.ContainsMessage("request failed"))
		})
	}
}

func TestErrorHandler_HandleError_Nil(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := apperrors.NewErrorHandler(logger, false)

	w := httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Zero(t, w.Body.Len())
	assert.Zero(t, logs.Count())
}

func TestErrorHandler_AppErrorDetails(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := apperrors.NewErrorHandler(logger, false)

	err := apperrors.NewInvalidParameterError("cointegration method", "granger", []string{"engle-granger", "johansen"})
	problem := handler.ErrorToProblem(err, httptest.NewRequest(http.MethodPost, "/api/v1/pairs", nil))

	assert.Equal(t, "INVALID_PARAMETER", problem.Extensions["error_type"])
	details, ok := problem.Extensions["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "cointegration method", details["parameter"])
	assert.Equal(t, "granger", details["value"])
}

func TestErrorHandler_IncludeStack(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := apperrors.NewErrorHandler(logger, true)

	w := httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("boom"))
	assert.Contains(t, decodeProblem(t, w)["stack"], "goroutine")

	// Client errors never carry a stack.
	w = httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), apperrors.NewValueError("empty"))
	assert.NotContains(t, decodeProblem(t, w), "stack")
}

func TestErrorHandler_Recoverer(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := apperrors.NewErrorHandler(logger, false)

	panicking := handler.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))

	w := httptest.NewRecorder()
	panicking.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, apperrors.TypeInternal, body["type"])
	assert.NotContains(t, body, "panic")
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")

	t.Run("abort handler is re-raised", func(t *testing.T) {
		aborting := handler.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			aborting.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := apperrors.NewErrorHandler(logger, false)

	w := httptest.NewRecorder()
	handler.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.TypeNotFound, decodeProblem(t, w)["type"])

	w = httptest.NewRecorder()
	handler.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/v1/pairs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.True(t, strings.Contains(decodeProblem(t, w)["detail"].(string), "DELETE"))
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	problem := apperrors.NewProblemDetails(http.StatusBadRequest, apperrors.TypeValue, "Invalid Value", "", "").
		WithExtension("error_type", "VALUE").
		WithExtension("status", 999)

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, float64(http.StatusBadRequest), body["status"], "standard members win")
	assert.Equal(t, "VALUE", body["error_type"])
	assert.NotContains(t, body, "detail")
	assert.NotContains(t, body, "instance")
}
