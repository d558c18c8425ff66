package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fox-techniques/plutus-pairtrading/internal/correlation"
	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/pairs"
	"github.com/fox-techniques/plutus-pairtrading/internal/shared/testutil"
	"github.com/fox-techniques/plutus-pairtrading/internal/stattest"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

type mockIdentifier struct {
	mock.Mock
}

func (m *mockIdentifier) Identify(ctx context.Context, t *timeseries.Table, opts pairs.Options) (*pairs.Report, error) {
	args := m.Called(ctx, t, opts)
	report, _ := args.Get(0).(*pairs.Report)
	return report, args.Error(1)
}

func newMockIdentifier(report *pairs.Report, err error) *mockIdentifier {
	if report == nil && err == nil {
		report = &pairs.Report{RunID: "run-1"}
	}
	m := &mockIdentifier{}
	m.On("Identify", mock.Anything, mock.Anything, mock.Anything).Return(report, err)
	return m
}

// last returns the table and options of the most recent call.
func (m *mockIdentifier) last(t *testing.T) (*timeseries.Table, pairs.Options) {
	t.Helper()
	require.NotEmpty(t, m.Calls, "Identify was not called")
	args := m.Calls[len(m.Calls)-1].Arguments
	return args.Get(1).(*timeseries.Table), args.Get(2).(pairs.Options)
}

func newTestPairsHandler(t *testing.T, identifier PairIdentifier, defaults pairs.Options) *PairsHandler {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewPairsHandler(identifier, defaults, logger, apperrors.NewErrorHandler(logger, false))
}

type reportBody struct {
	RunID      string `json:"run_id"`
	Candidates []struct {
		Rank      int    `json:"rank"`
		SecurityA string `json:"security_a"`
		SecurityB string `json:"security_b"`
	} `json:"candidates"`
}

func pricesJSON(t *testing.T, n int, options map[string]interface{}) []byte {
	t.Helper()
	x, y := testutil.CointegratedPair(1, n)
	dates := testutil.BusinessDays(testutil.DefaultStart, n)

	body := map[string]interface{}{
		"dates":  formatDates(dates),
		"prices": map[string][]float64{"Y": y, "X": x},
	}
	if options != nil {
		body["options"] = options
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return data
}

func pricesCSV(n int) string {
	x, y := testutil.CointegratedPair(1, n)
	var b strings.Builder
	b.WriteString("date,Y,X\n")
	for i, d := range testutil.BusinessDays(testutil.DefaultStart, n) {
		fmt.Fprintf(&b, "%s,%g,%g\n", d.Format(timeseries.DateLayout), y[i], x[i])
	}
	return b.String()
}

func formatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(timeseries.DateLayout)
	}
	return out
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestPairsHandler_IdentifyJSON(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := newTestPairsHandler(t, pairs.NewIdentifier(logger), pairs.Options{})

	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(pricesJSON(t, 250, map[string]interface{}{
		"allow_stationary_legs": true,
	})))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report reportBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, report.RunID, w.Header().Get("X-Run-ID"))
	require.Len(t, report.Candidates, 1)
	assert.Equal(t, 1, report.Candidates[0].Rank)
	assert.ElementsMatch(t, []string{"X", "Y"}, []string{report.Candidates[0].SecurityA, report.Candidates[0].SecurityB})
}

func TestPairsHandler_IdentifyCSV(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := newTestPairsHandler(t, pairs.NewIdentifier(logger), pairs.Options{})

	r := httptest.NewRequest(http.MethodPost, "/?allow_stationary_legs=true&top=1", strings.NewReader(pricesCSV(250)))
	r.Header.Set("Content-Type", "text/csv; charset=utf-8")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report reportBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Len(t, report.Candidates, 1)
}

func TestPairsHandler_MissingContentTypeIsJSON(t *testing.T) {
	m := newMockIdentifier(nil, nil)
	h := newTestPairsHandler(t, m, pairs.Options{})

	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(pricesJSON(t, 5, nil)))
	w := httptest.NewRecorder()
	h.Identify(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	table, _ := m.last(t)
	assert.Equal(t, []string{"X", "Y"}, table.Columns(), "columns default to sorted names")
	assert.Equal(t, 5, table.Len())
}

func TestPairsHandler_JSONColumnsAndNulls(t *testing.T) {
	m := newMockIdentifier(nil, nil)
	h := newTestPairsHandler(t, m, pairs.Options{})

	body := `{
		"dates": ["2024-01-02", "2024-01-03", "2024-01-04"],
		"prices": {"KO": [60.1, null, 60.4], "PEP": [170.2, 170.9, 171.0]},
		"columns": ["PEP", "KO"],
		"start": "2024-01-03"
	}`
	w := httptest.NewRecorder()
	h.Identify(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	table, opts := m.last(t)
	assert.Equal(t, []string{"PEP", "KO"}, table.Columns())
	ko, err := table.Column("KO")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ko[1]), "null decodes to NaN")
	require.NotNil(t, opts.Start)
	assert.Equal(t, "2024-01-03", opts.Start.Format(timeseries.DateLayout))
}

func TestPairsHandler_OptionsOverlayDefaults(t *testing.T) {
	plus := 0.7
	defaults := pairs.Options{
		PlusThreshold:     &plus,
		CorrelationMethod: correlation.Spearman,
		SignificanceLevel: 0.05,
	}
	m := newMockIdentifier(nil, nil)
	h := newTestPairsHandler(t, m, defaults)

	t.Run("json", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Identify(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(pricesJSON(t, 5, map[string]interface{}{
			"plus_threshold":       0.9,
			"cointegration_method": "johansen",
		}))))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		_, opts := m.last(t)
		require.NotNil(t, opts.PlusThreshold)
		assert.Equal(t, 0.9, *opts.PlusThreshold)
		assert.Equal(t, stattest.JohansenMethod, opts.CointegrationMethod)
		assert.Equal(t, correlation.Spearman, opts.CorrelationMethod, "unset fields keep the default")
		assert.Equal(t, 0.7, plus, "defaults are not mutated")
	})

	t.Run("json option dates", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Identify(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(pricesJSON(t, 5, map[string]interface{}{
			"start": "2024-01-02",
			"end":   "2024-01-04",
		}))))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		_, opts := m.last(t)
		require.NotNil(t, opts.Start)
		require.NotNil(t, opts.End)
		assert.Equal(t, "2024-01-02", opts.Start.String())
		assert.Equal(t, "2024-01-04", opts.End.String())
	})

	t.Run("csv query", func(t *testing.T) {
		target := "/?securities=Y,%20X&correlation_method=kendall&stationarity_method=KPSS" +
			"&cointegration_method=phillips-ouliaris&trend=ct&significance_level=0.01&end=2024-01-05"
		r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(pricesCSV(5)))
		r.Header.Set("Content-Type", "text/csv")
		w := httptest.NewRecorder()
		h.Identify(w, r)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		_, opts := m.last(t)
		assert.Equal(t, []string{"Y", "X"}, opts.Securities)
		assert.Equal(t, correlation.Kendall, opts.CorrelationMethod)
		assert.Equal(t, stattest.KPSSMethod, opts.StationarityMethod)
		assert.Equal(t, stattest.PhillipsOuliarisMethod, opts.CointegrationMethod)
		assert.Equal(t, "ct", opts.Trend)
		assert.Equal(t, 0.01, opts.SignificanceLevel)
		require.NotNil(t, opts.End)
		assert.Equal(t, "2024-01-05", opts.End.Format(timeseries.DateLayout))
		assert.Equal(t, 0.7, *opts.PlusThreshold)
	})
}

func TestPairsHandler_Top(t *testing.T) {
	m := newMockIdentifier(&pairs.Report{
		RunID:      "run-top",
		Candidates: []pairs.Candidate{{Rank: 1}, {Rank: 2}, {Rank: 3}},
	}, nil)
	h := newTestPairsHandler(t, m, pairs.Options{})

	w := httptest.NewRecorder()
	h.Identify(w, httptest.NewRequest(http.MethodPost, "/?top=2", bytes.NewReader(pricesJSON(t, 5, nil))))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report reportBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Len(t, report.Candidates, 2)
	assert.Equal(t, "run-top", w.Header().Get("X-Run-ID"))
}

func TestPairsHandler_Errors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		target      string
		body        string
		limit       int64
		identErr    error
		wantStatus  int
		wantType    string
	}{
		{
			name:       "malformed json",
			body:       `{"dates": [`,
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeParsing,
		},
		{
			name:       "missing dates",
			body:       `{"prices": {"A": [1]}}`,
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeValidation,
		},
		{
			name:       "bad date",
			body:       `{"dates": ["02/01/2024"], "prices": {"A": [1]}}`,
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeParsing,
		},
		{
			name:       "length mismatch",
			body:       `{"dates": ["2024-01-02", "2024-01-03"], "prices": {"A": [1]}}`,
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeSchema,
		},
		{
			name:       "unknown column",
			body:       `{"dates": ["2024-01-02"], "prices": {"A": [1]}, "columns": ["B"]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeSchema,
		},
		{
			name:        "empty csv",
			contentType: "text/csv",
			body:        "",
			wantStatus:  http.StatusBadRequest,
			wantType:    apperrors.TypeSchema,
		},
		{
			name:        "bad significance level",
			contentType: "text/csv",
			target:      "/?significance_level=high",
			body:        pricesCSV(3),
			wantStatus:  http.StatusBadRequest,
			wantType:    apperrors.TypeInvalidParameter,
		},
		{
			name:       "negative top",
			target:     "/?top=-1",
			body:       `{"dates": ["2024-01-02"], "prices": {"A": [1]}}`,
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeInvalidParameter,
		},
		{
			name:        "unsupported media type",
			contentType: "application/xml",
			body:        "<prices/>",
			wantStatus:  http.StatusUnsupportedMediaType,
			wantType:    apperrors.TypeUnsupportedMedia,
		},
		{
			name:       "body too large",
			body:       `{"dates": ["2024-01-02"], "prices": {"A": [1]}}`,
			limit:      8,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   apperrors.TypePayloadTooLarge,
		},
		{
			name:        "csv body too large",
			contentType: "text/csv",
			body:        pricesCSV(50),
			limit:       64,
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantType:    apperrors.TypePayloadTooLarge,
		},
		{
			name:       "unknown security",
			body:       `{"dates": ["2024-01-02"], "prices": {"A": [1]}}`,
			identErr:   apperrors.NewColumnNotFoundError("TSLA"),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apperrors.TypeColumnNotFound,
		},
		{
			name:       "pipeline timeout",
			body:       `{"dates": ["2024-01-02"], "prices": {"A": [1]}}`,
			identErr:   context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   apperrors.TypeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockIdentifier(nil, tt.identErr)
			h := newTestPairsHandler(t, m, pairs.Options{})

			target := tt.target
			if target == "" {
				target = "/"
			}
			r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			if tt.limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, tt.limit)
			}
			h.Identify(w, r)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			problem := decodeProblem(t, w)
			assert.Equal(t, tt.wantType, problem["type"])
			assert.Equal(t, "/", problem["instance"])
			if tt.identErr != nil {
				m.AssertNumberOfCalls(t, "Identify", 1)
			} else {
				m.AssertNotCalled(t, "Identify", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestPairsHandler_FailureMarksRequestSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	identifier := newMockIdentifier(nil, apperrors.NewNumericalError("singular moment matrix", nil))
	h := newTestPairsHandler(t, identifier, pairs.Options{})

	ctx, span := tp.Tracer("test").Start(context.Background(), "POST /api/v1/pairs")
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(pricesJSON(t, 60, nil))).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, r)
	span.End()

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
