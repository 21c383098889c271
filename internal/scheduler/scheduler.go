package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/instrument-refresh/internal/clock"
)

// Skip reasons for stages that were never started.
const (
	ReasonRunBudget = "run budget exhausted"
	ReasonCancelled = "run cancelled"
)

// ProgressRecorder persists stage summaries as the run proceeds.
type ProgressRecorder interface {
	RecordStageProgress(ctx context.Context, runID string, summary StageSummary) error
}

// Scheduler runs stages in order.
type Scheduler struct {
	clock       clock.Clock
	logger      *slog.Logger
	recorder    ProgressRecorder
	totalBudget time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder persists each stage summary after the stage ends.
func WithRecorder(r ProgressRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithTotalBudget bounds the whole run. Non-critical stages are skipped once
// it has elapsed. Zero disables the limit.
func WithTotalBudget(d time.Duration) Option {
	return func(s *Scheduler) { s.totalBudget = d }
}

// New creates a scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes stages sequentially and returns a report covering every one
// of them. It never returns early on a stage failure.
func (s *Scheduler) Run(ctx context.Context, stages []Stage) RunReport {
	report := RunReport{
		RunID:     uuid.NewString(),
		StartedAt: s.clock.Now(),
		Stages:    make([]StageSummary, 0, len(stages)),
	}

	s.logger.Info("run started", "run_id", report.RunID, "stages", len(stages))

	for _, st := range stages {
		var summary StageSummary
		if reason := s.skipReason(ctx, report.StartedAt, st); reason != "" {
			summary = StageSummary{
				Name:     st.Name,
				State:    NotStarted,
				Critical: st.Critical,
				Budget:   st.Budget,
				Reason:   reason,
			}
			s.logger.Warn("stage skipped", "run_id", report.RunID, "stage", st.Name, "reason", reason)
		} else {
			stageCtx := ctx
			if st.Critical && ctx.Err() != nil {
				stageCtx = context.WithoutCancel(ctx)
			}
			summary = s.runStage(stageCtx, report.RunID, st)
		}

		report.Stages = append(report.Stages, summary)
		s.record(ctx, report.RunID, summary)
	}

	report.Elapsed = s.clock.Now().Sub(report.StartedAt)

	s.logger.Info("run finished",
		"run_id", report.RunID,
		"elapsed", report.Elapsed,
		"partial", report.Partial(),
	)
	return report
}

func (s *Scheduler) skipReason(ctx context.Context, runStart time.Time, st Stage) string {
	if st.Critical {
		return ""
	}
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	if s.totalBudget > 0 && s.clock.Now().Sub(runStart) >= s.totalBudget {
		return ReasonRunBudget
	}
	return ""
}

func (s *Scheduler) runStage(ctx context.Context, runID string, st Stage) StageSummary {
	logger := s.logger.With("run_id", runID, "stage", st.Name)
	budget := NewBudget(s.clock, st.Budget, st.MaxEntities)

	summary := StageSummary{
		Name:     st.Name,
		State:    Running,
		Critical: st.Critical,
		Budget:   st.Budget,
	}

	logger.Info("stage started",
		"budget", st.Budget,
		"max_entities", st.MaxEntities,
		"critical", st.Critical,
	)

	res, err := safeWork(WithBudget(ctx, budget), st.Work, budget)

	summary.Elapsed = budget.Elapsed()
	summary.Attempted = res.Attempted
	summary.Succeeded = res.Succeeded
	summary.Removed = res.Removed
	summary.Failed = res.Failed

	switch {
	case err != nil && !errors.Is(err, ErrBudgetExceeded):
		summary.State = Failed
		summary.Error = err.Error()
	case budget.Truncation() != NotStarted:
		summary.State = budget.Truncation()
		summary.Reason = budget.reason()
	case err != nil:
		// Work reported a budget stop without going through Allow.
		summary.State = TruncatedByBudget
		summary.Reason = err.Error()
	default:
		summary.State = Completed
	}

	attrs := []any{
		"state", summary.State,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"removed", summary.Removed,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed,
	}
	switch {
	case summary.State == Failed:
		logger.Error("stage failed", append(attrs, "err", summary.Error)...)
	case summary.State.Truncated():
		logger.Warn("stage truncated", append(attrs, "reason", summary.Reason)...)
	default:
		logger.Info("stage completed", attrs...)
	}

	if summary.State == Completed && summary.Elapsed > st.Budget {
		logger.Warn("stage overran its budget",
			"budget", st.Budget,
			"overrun", summary.Elapsed-st.Budget,
		)
	}

	return summary
}

func (s *Scheduler) record(ctx context.Context, runID string, summary StageSummary) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordStageProgress(context.WithoutCancel(ctx), runID, summary); err != nil {
		s.logger.Warn("failed to record stage progress",
			"run_id", runID,
			"stage", summary.Name,
			"err", err,
		)
	}
}

// safeWork runs work, converting a panic into an error.
func safeWork(ctx context.Context, work WorkFunc, b *Budget) (res Result, err error) {
	if work == nil {
		return Result{}, errors.New("stage has no work function")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx, b)
}
