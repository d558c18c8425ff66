package http

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/fox-techniques/plutus-pairtrading/internal/correlation"
	"github.com/fox-techniques/plutus-pairtrading/internal/dataio"
	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/infrastructure"
	"github.com/fox-techniques/plutus-pairtrading/internal/pairs"
	"github.com/fox-techniques/plutus-pairtrading/internal/stattest"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// PairIdentifier runs the pair identification pipeline.
type PairIdentifier interface {
	Identify(ctx context.Context, t *timeseries.Table, opts pairs.Options) (*pairs.Report, error)
}

// PairsHandler handles pair identification requests
type PairsHandler struct {
	identifier   PairIdentifier
	defaults     pairs.Options
	logger       *slog.Logger
	errorHandler *apperrors.ErrorHandler
}

// NewPairsHandler creates a new pairs handler. defaults apply to CSV
// uploads and to JSON requests without options.
func NewPairsHandler(identifier PairIdentifier, defaults pairs.Options, logger *slog.Logger, errorHandler *apperrors.ErrorHandler) *PairsHandler {
	return &PairsHandler{
		identifier:   identifier,
		defaults:     defaults,
		logger:       logger.With(slog.String("handler", "pairs")),
		errorHandler: errorHandler,
	}
}

// Routes sets up the pairs routes
func (h *PairsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Identify)
	return r
}

// IdentifyRequest is the JSON body of POST /api/v1/pairs.
type IdentifyRequest struct {
	Dates []string `json:"dates" validate:"required,min=1,dive,required"`
	// Prices maps a security to one price per date. null is missing.
	Prices map[string][]*float64 `json:"prices" validate:"required,min=1"`
	// Columns fixes the column order. Empty means sorted security names.
	Columns []string `json:"columns,omitempty" validate:"omitempty,unique"`
	// Start and End are ISO dates and override options.start and options.end.
	Start   string         `json:"start,omitempty"`
	End     string         `json:"end,omitempty"`
	Options *pairs.Options `json:"options,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Bind implements render.Binder
func (req *IdentifyRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewValidationError(fmt.Sprintf("invalid %s (rule %s)", fe.Namespace(), fe.Tag()))
		}
		return apperrors.NewValidationError(err.Error())
	}
	return nil
}

// Table converts the inline prices to a table.
func (req *IdentifyRequest) Table() (*timeseries.Table, error) {
	dates := make([]time.Time, len(req.Dates))
	for i, s := range req.Dates {
		d, err := timeseries.ParseDate(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		dates[i] = d
	}

	names := req.Columns
	if len(names) == 0 {
		names = make([]string, 0, len(req.Prices))
		for name := range req.Prices {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	columns := make(map[string][]float64, len(names))
	for _, name := range names {
		raw, ok := req.Prices[name]
		if !ok {
			return nil, apperrors.NewSchemaError(fmt.Sprintf("column %q has no prices", name))
		}
		values := make([]float64, len(raw))
		for i, v := range raw {
			if v == nil {
				values[i] = math.NaN()
			} else {
				values[i] = *v
			}
		}
		columns[name] = values
	}
	return timeseries.New(dates, names, columns)
}

// Identify handles POST /api/v1/pairs
func (h *PairsHandler) Identify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			h.unsupportedMedia(w, r, ct)
			return
		}
		mediaType = parsed
	}

	var (
		table *timeseries.Table
		opts  pairs.Options
		err   error
	)
	switch mediaType {
	case "application/json":
		table, opts, err = h.decodeJSON(r)
	case "text/csv":
		table, opts, err = h.decodeCSV(r)
	default:
		h.unsupportedMedia(w, r, mediaType)
		return
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	top, err := topParam(r.URL.Query())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "Identifying pairs",
		slog.String("content_type", mediaType),
		slog.Int("rows", table.Len()),
		slog.Int("columns", len(table.Columns())))

	report, err := h.identifier.Identify(ctx, table, opts)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("X-Run-ID", report.RunID)
	if top > 0 {
		report.Candidates = report.Top(top)
	}
	render.JSON(w, r, report)
}

func (h *PairsHandler) decodeJSON(r *http.Request) (*timeseries.Table, pairs.Options, error) {
	// Body options are decoded over a copy of the defaults.
	defaults := cloneOptions(h.defaults)
	req := &IdentifyRequest{Options: &defaults}
	// render.Bind refuses a missing Content-Type, so decode explicitly.
	if err := render.DecodeJSON(r.Body, req); err != nil {
		var maxBytes *http.MaxBytesError
		if stderrors.As(err, &maxBytes) {
			return nil, pairs.Options{}, err
		}
		return nil, pairs.Options{}, apperrors.NewParsingError("invalid JSON body", err)
	}
	if err := req.Bind(r); err != nil {
		return nil, pairs.Options{}, err
	}

	table, err := req.Table()
	if err != nil {
		return nil, pairs.Options{}, err
	}

	opts := cloneOptions(h.defaults)
	if req.Options != nil {
		opts = *req.Options
	}
	if err := applyDates(&opts, req.Start, req.End); err != nil {
		return nil, pairs.Options{}, err
	}
	return table, opts, nil
}

func (h *PairsHandler) decodeCSV(r *http.Request) (*timeseries.Table, pairs.Options, error) {
	query := r.URL.Query()
	table, err := dataio.ReadCSV(r.Body, "request body", dataio.Options{DateColumn: query.Get("date_column")})
	if err != nil {
		return nil, pairs.Options{}, err
	}
	opts, err := h.queryOptions(query)
	if err != nil {
		return nil, pairs.Options{}, err
	}
	return table, opts, nil
}

// queryOptions overlays query parameters on the defaults.
func (h *PairsHandler) queryOptions(query url.Values) (pairs.Options, error) {
	opts := cloneOptions(h.defaults)
	if v := query.Get("securities"); v != "" {
		opts.Securities = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Securities = append(opts.Securities, s)
			}
		}
	}
	if v := query.Get("correlation_method"); v != "" {
		opts.CorrelationMethod = correlation.Method(v)
	}
	if v := query.Get("stationarity_method"); v != "" {
		opts.StationarityMethod = stattest.StationarityMethod(v)
	}
	if v := query.Get("cointegration_method"); v != "" {
		opts.CointegrationMethod = stattest.CointegrationMethod(v)
	}
	if v := query.Get("trend"); v != "" {
		opts.Trend = v
	}
	if v := query.Get("significance_level"); v != "" {
		alpha, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return pairs.Options{}, apperrors.NewInvalidParameterError("significance_level", v, nil)
		}
		opts.SignificanceLevel = alpha
	}
	if v := query.Get("allow_stationary_legs"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return pairs.Options{}, apperrors.NewInvalidParameterError("allow_stationary_legs", v, nil)
		}
		opts.AllowStationaryLegs = allow
	}
	if err := applyDates(&opts, query.Get("start"), query.Get("end")); err != nil {
		return pairs.Options{}, err
	}
	return opts, nil
}

// cloneOptions copies o so decoding into the copy leaves o untouched.
func cloneOptions(o pairs.Options) pairs.Options {
	o.Securities = append([]string(nil), o.Securities...)
	o.Start = clonePtr(o.Start)
	o.End = clonePtr(o.End)
	o.PlusThreshold = clonePtr(o.PlusThreshold)
	o.MinusThreshold = clonePtr(o.MinusThreshold)
	o.MaxLag = clonePtr(o.MaxLag)
	o.Lags = clonePtr(o.Lags)
	o.LagDiffs = clonePtr(o.LagDiffs)
	return o
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func applyDates(opts *pairs.Options, start, end string) error {
	if start != "" {
		d, err := timeseries.ParseDate(start)
		if err != nil {
			return err
		}
		opts.Start = &timeseries.Date{Time: d}
	}
	if end != "" {
		d, err := timeseries.ParseDate(end)
		if err != nil {
			return err
		}
		opts.End = &timeseries.Date{Time: d}
	}
	return nil
}

func topParam(query url.Values) (int, error) {
	v := query.Get("top")
	if v == "" {
		return 0, nil
	}
	top, err := strconv.Atoi(v)
	if err != nil || top < 0 {
		return 0, apperrors.NewInvalidParameterError("top", v, nil)
	}
	return top, nil
}

func (h *PairsHandler) unsupportedMedia(w http.ResponseWriter, r *http.Request, mediaType string) {
	h.logger.WarnContext(r.Context(), "Unsupported content type", slog.String("content_type", mediaType))
	h.errorHandler.RenderProblem(w, r, apperrors.NewProblemDetails(
		http.StatusUnsupportedMediaType,
		apperrors.TypeUnsupportedMedia,
		"Unsupported Media Type",
		fmt.Sprintf("Content type %q is not supported. Use application/json or text/csv", mediaType),
		r.URL.Path,
	))
}
