package hunt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/willf/bloom"

	"threathunt/internal/common"
	"threathunt/internal/metrics"
	"threathunt/internal/query"
	"threathunt/internal/record"
	"threathunt/internal/siem"
	"threathunt/internal/store"
	"threathunt/internal/threat"
)

// Ledger stores run summaries.
type Ledger interface {
	Save(run store.Run) error
}

// Notifier forwards executed queries with hits downstream.
type Notifier interface {
	Notify(ctx context.Context, runID string, queries []query.SearchQuery) (int, error)
}

// Settings are the per-run parameters of the pipeline.
type Settings struct {
	Kinds        []common.Kind
	LookbackDays int
	SearchDays   int
	Credentials  siem.Credentials
}

// Deps are the collaborators a pipeline drives. Reports, Ledger and
// Notifier are optional.
type Deps struct {
	Source    threat.EventSource
	Connector siem.Connector
	Recorder  *record.Recorder
	Reports   *record.ReportWriter
	Ledger    Ledger
	Notifier  Notifier
	Logger    *slog.Logger
}

// Result is what one run produced.
type Result struct {
	Run     store.Run
	Queries []query.SearchQuery
}

// Pipeline pulls intelligence events, hunts their indicators in the
// backend and records what was searched and found.
type Pipeline struct {
	settings Settings
	opts     Options
	deps     Deps
	orch     *Orchestrator
	now      func() time.Time
}

func NewPipeline(settings Settings, opts Options, deps Deps) *Pipeline {
	if len(settings.Kinds) == 0 {
		settings.Kinds = common.DefaultKinds
	}
	return &Pipeline{
		settings: settings,
		opts:     opts,
		deps:     deps,
		orch:     NewOrchestrator(deps.Connector, opts, deps.Logger),
		now:      time.Now,
	}
}

// Run executes the pipeline once. Only a failed event fetch or a failed
// backend login abort the run; every other failure is recorded in the
// returned summary.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	started := p.now()
	run := store.Run{ID: uuid.NewString(), StartedAt: started}
	logger := p.deps.Logger.With("run_id", run.ID)
	logger.Info("hunt started", "source", p.deps.Source.Name(), "lookback_days", p.settings.LookbackDays)

	events, err := p.deps.Source.Events(ctx, started.AddDate(0, 0, -p.settings.LookbackDays))
	if err != nil {
		return p.finish(logger, run, nil, fmt.Errorf("fetch events: %w", err))
	}
	run.Events = len(events)

	// Report artifacts are a side channel over the same events.
	var (
		wg      sync.WaitGroup
		reports record.ReportStats
	)
	if p.deps.Reports != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports = p.deps.Reports.WriteAll(events)
		}()
	}
	collectReports := func() {
		wg.Wait()
		run.ReportsWritten = reports.Written
		run.ReportsFailed = reports.Failed
	}

	inds := threat.Extract(events, p.settings.Kinds)
	run.Indicators = len(inds)
	for kind, n := range threat.CountByKind(inds) {
		metrics.IndicatorsExtracted.WithLabelValues(string(kind)).Add(float64(n))
	}
	repeats := countRepeats(inds)
	metrics.IndicatorRepeats.Add(float64(repeats))
	run.DistinctIndicators = len(inds) - repeats
	logger.Info("indicators extracted", "events", len(events), "indicators", len(inds), "repeats", repeats)

	if err := p.authenticate(ctx); err != nil {
		collectReports()
		return p.finish(logger, run, nil, fmt.Errorf("authenticate: %w", err))
	}

	queries := query.BuildAll(inds, query.NewWindow(started, p.settings.SearchDays))
	executed, stats := p.orch.Execute(ctx, queries)
	run.Queries = stats.Executed
	run.FailedQueries = stats.Failed
	run.CachedQueries = stats.Cached
	run.Hits = stats.Hits
	metrics.LastRunHits.Set(float64(stats.Hits))

	path, err := p.deps.Recorder.Write(started, executed)
	if err != nil {
		run.RecordFailed = true
		logger.Error("query record not written", "err", err)
	} else {
		run.RecordPath = path
	}

	if p.deps.Notifier != nil {
		sent, err := p.deps.Notifier.Notify(ctx, run.ID, executed)
		run.Notified = sent
		if err != nil {
			logger.Warn("hit notification incomplete", "sent", sent, "err", err)
		}
	}

	collectReports()
	return p.finish(logger, run, executed, nil)
}

func (p *Pipeline) authenticate(ctx context.Context) error {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	err := p.deps.Connector.Authenticate(ctx, p.settings.Credentials)
	if err != nil && !errors.Is(err, siem.ErrAuthentication) {
		err = fmt.Errorf("%w: %w", siem.ErrAuthentication, err)
	}
	return err
}

func (p *Pipeline) finish(logger *slog.Logger, run store.Run, executed []query.SearchQuery, runErr error) (Result, error) {
	run.FinishedAt = p.now()
	switch {
	case runErr != nil:
		run.Status = store.StatusFailed
		run.Error = runErr.Error()
	case run.FailedQueries > 0 || run.RecordFailed || run.ReportsFailed > 0:
		run.Status = store.StatusPartial
	default:
		run.Status = store.StatusOK
	}
	metrics.Runs.WithLabelValues(run.Status).Inc()

	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.Save(run); err != nil {
			logger.Error("run ledger not updated", "err", err)
		}
	}

	if runErr != nil {
		logger.Error("hunt aborted", "err", runErr, "events", run.Events, "indicators", run.Indicators)
		return Result{Run: run}, runErr
	}
	logger.Info("hunt finished",
		"indicators", run.Indicators,
		"queries", run.Queries,
		"status", run.Status,
		"failed_queries", run.FailedQueries,
		"hits", run.Hits,
		"reports", run.ReportsWritten,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)
	return Result{Run: run, Queries: executed}, nil
}

// countRepeats estimates how many indicators repeat an earlier value.
func countRepeats(inds []threat.Indicator) int {
	if len(inds) == 0 {
		return 0
	}
	f := bloom.NewWithEstimates(uint(len(inds)), 0.001)
	n := 0
	for _, ind := range inds {
		if f.TestAndAdd([]byte(string(ind.Kind) + "\x00" + ind.Value)) {
			n++
		}
	}
	return n
}
