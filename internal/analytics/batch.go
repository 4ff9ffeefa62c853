// Package analytics is the batched query engine: it validates a batch of
// named sub-queries, aggregates each over the tracking store and renders
// it as a flat, table or chart result.
package analytics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub013/internal/pkg/async"
	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// Options tune an Engine. Zero values fall back to the defaults below.
type Options struct {
	Workers           int
	Timeout           time.Duration
	FactRetentionDays int
	DefaultPerPage    int
	MaxPerPage        int
	PreviousPolicy    timeframe.PreviousPolicy
	Now               func() time.Time
}

const (
	defaultWorkers    = 6
	defaultPerPage    = 10
	defaultMaxPerPage = 1000
)

// Engine runs batches. It keeps no state between requests and is safe for
// concurrent use.
type Engine struct {
	db      *gorm.DB
	logger  *slog.Logger
	labeler Labeler
	opts    Options
	pool    *async.Pool
}

func NewEngine(db *gorm.DB, logger *slog.Logger, labeler Labeler, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.DefaultPerPage < 1 {
		opts.DefaultPerPage = defaultPerPage
	}
	if opts.MaxPerPage < 1 {
		opts.MaxPerPage = defaultMaxPerPage
	}
	if opts.DefaultPerPage > opts.MaxPerPage {
		opts.DefaultPerPage = opts.MaxPerPage
	}
	if opts.PreviousPolicy == "" {
		opts.PreviousPolicy = timeframe.PreviousPolicyPreceding
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		db:      db,
		logger:  logger,
		labeler: labeler,
		opts:    opts,
		pool:    async.NewPool(opts.Workers),
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

// Run executes every sub-query of req. A *QueryError with code
// invalid_request means the payload was rejected and nothing ran. A
// cancelled error is returned only when the context ended before any
// sub-query produced a result; the partial response is returned with it.
func (e *Engine) Run(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	bc, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	tasks := make([]async.Task, 0, len(req.Queries))
	for _, spec := range req.Queries {
		spec := spec
		tasks = append(tasks, async.Task{
			Name: spec.ID,
			Execute: func(ctx context.Context) (interface{}, error) {
				return e.runQuery(ctx, bc, spec)
			},
		})
	}

	start := time.Now()
	results := e.pool.Execute(ctx, tasks)

	resp := &BatchResponse{
		Success: true,
		Items:   make(map[string]any, len(req.Queries)),
		Errors:  make(map[string]*QueryError),
	}

	for _, spec := range req.Queries {
		result, ok := results[spec.ID]
		if !ok {
			resp.Errors[spec.ID] = classify(cancellationCause(ctx))
			continue
		}
		if result.Err != nil {
			qe := classify(result.Err)
			if qe.Code == CodePreconditionUnmet {
				e.logger.Debug("Skipping sub-query",
					slog.String("id", spec.ID),
					slog.String("reason", qe.Message))
				resp.Skipped = append(resp.Skipped, spec.ID)
				continue
			}
			e.logSubQueryError(spec.ID, qe)
			resp.Errors[spec.ID] = qe
			continue
		}
		resp.Items[spec.ID] = result.Data
	}

	e.logger.Info("Analytics batch completed",
		slog.Int("queries", len(req.Queries)),
		slog.Int("items", len(resp.Items)),
		slog.Int("errors", len(resp.Errors)),
		slog.Int("skipped", len(resp.Skipped)),
		slog.Duration("duration", time.Since(start)))

	if ctx.Err() != nil && len(resp.Items) == 0 && len(resp.Skipped) == 0 {
		return resp, &QueryError{Code: CodeCancelled, Message: "batch cancelled before any query completed", Err: ctx.Err()}
	}
	return resp, nil
}

// cancellationCause is why a sub-query never reported back.
func cancellationCause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return context.Canceled
}

func (e *Engine) logSubQueryError(id string, qe *QueryError) {
	attrs := []any{
		slog.String("id", id),
		slog.String("code", string(qe.Code)),
		slog.String("message", qe.Message),
	}
	if qe.Err != nil {
		attrs = append(attrs, slog.Any("error", qe.Err))
	}
	switch qe.Code {
	case CodeStoreUnavailable:
		e.logger.Error("Analytics sub-query failed", attrs...)
	default:
		e.logger.Warn("Analytics sub-query rejected", attrs...)
	}
}

// runQuery validates one sub-query and renders it in its format.
func (e *Engine) runQuery(ctx context.Context, bc *batchContext, spec QuerySpec) (any, error) {
	format := Format(strings.ToLower(strings.TrimSpace(string(spec.Format))))
	if format == "" {
		format = FormatTable
	}
	switch format {
	case FormatFlat, FormatTable, FormatChart:
	default:
		return nil, newError(CodeInvalidFormat, "unknown format %q", spec.Format)
	}

	sources, err := parseSources(spec.Sources)
	if err != nil {
		return nil, err
	}
	dims, err := resolveDimensions(spec.GroupBy)
	if err != nil {
		return nil, err
	}
	own, err := compileFilters(spec.Filters)
	if err != nil {
		return nil, err
	}
	filters := make([]compiledFilter, 0, len(bc.filters)+len(own))
	filters = append(filters, bc.filters...)
	filters = append(filters, own...)

	if format == FormatFlat {
		dims = nil
	}
	for _, d := range dims {
		if d.requires != "" && !hasFilter(filters, d.requires) {
			return nil, newError(CodePreconditionUnmet, "grouping by %s requires a %s filter", d.key, d.requires)
		}
	}

	x := &execution{
		spec:    spec,
		plan:    &plan{sources: sources, dims: dims, filters: filters},
		current: bc.current,
	}
	if bc.compareFor(spec) {
		previous := bc.previous
		if previous == nil {
			derived := e.opts.PreviousPolicy.Previous(bc.current)
			previous = &derived
		}
		x.previous = previous
	}

	switch format {
	case FormatFlat:
		return e.flat(ctx, x)
	case FormatChart:
		return e.chart(ctx, x)
	default:
		return e.table(ctx, x)
	}
}
