// Package engine drives the fallback release pipeline:
// acquire lock → throttle check → route → execute → consolidate → release
// lock → report.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/ci"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/executor"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/locker"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/release"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/router"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// RunRequest describes one invocation of the fallback pipeline
type RunRequest struct {
	Repo              string
	Version           string
	WorkflowFile      string
	Platforms         []string // job names to build; empty means all
	SkipThrottleCheck bool
	InstallerScript   string // optional existing installer to infer naming from
}

// Engine is the run coordinator
type Engine struct {
	locks        *locker.Manager
	detector     *ci.Detector
	router       *router.Router
	executor     *executor.Executor
	consolidator *release.Consolidator
	notifier     interfaces.RunNotifier
	logger       logger.Logger
	config       *types.Config
}

// New creates an engine from its collaborators
func New(
	locks *locker.Manager,
	detector *ci.Detector,
	rt *router.Router,
	exec *executor.Executor,
	consolidator *release.Consolidator,
	notifier interfaces.RunNotifier,
	log logger.Logger,
	config *types.Config,
) *Engine {
	return &Engine{
		locks:        locks,
		detector:     detector,
		router:       rt,
		executor:     exec,
		consolidator: consolidator,
		notifier:     notifier,
		logger:       log,
		config:       config,
	}
}

// Run executes one fallback release run. The repository lock is released
// on every exit path, including cancellation. The returned report is
// always usable even when err is non-nil.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*types.RunReport, error) {
	report := &types.RunReport{
		RunID:     uuid.New().String(),
		Repo:      req.Repo,
		Version:   req.Version,
		Status:    types.RunStatusError,
		Targets:   []types.TargetResult{},
		StartedAt: time.Now(),
	}
	defer func() {
		report.CompletedAt = time.Now()
		report.Duration = report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond).String()
	}()

	// Sweep locks left by crashed processes before competing for ours.
	if reclaimed, err := e.locks.SweepStale(); err != nil {
		if e.logger != nil {
			e.logger.Warn("Stale lock sweep failed", logger.WithField("error", err))
		}
	} else if len(reclaimed) > 0 && e.logger != nil {
		e.logger.Info("Reclaimed stale locks", logger.WithField("repos", reclaimed))
	}

	handle, err := e.locks.Acquire(req.Repo, report.RunID)
	if err != nil {
		report.Failures = append(report.Failures, err.Error())
		return report, err
	}
	defer func() {
		if releaseErr := e.locks.Release(handle); releaseErr != nil && e.logger != nil {
			e.logger.Warn("Failed to release lock", logger.WithField("error", releaseErr))
		}
	}()

	// Previous terminal runs for the repository are archived now that we
	// hold the lock.
	if err := e.locks.ArchiveRuns(req.Repo); err != nil && e.logger != nil {
		e.logger.Warn("Failed to archive previous runs", logger.WithField("error", err))
	}

	if !req.SkipThrottleCheck {
		throttled, queue, err := e.detector.IsThrottled(ctx, req.Repo, e.config.Throttle.Workflow, e.config.Throttle.Threshold())
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("throttle check: %v", err))
			return report, fmt.Errorf("throttle check: %w", err)
		}
		report.Throttled = &throttled
		if !throttled {
			// Hosted CI is healthy; the fallback has nothing to do.
			report.Status = types.RunStatusSuccess
			if e.logger != nil {
				e.logger.Info("Provider healthy, fallback not needed",
					logger.WithField("repo", req.Repo),
					logger.WithField("queue", queue.Round(time.Second)))
			}
			return report, nil
		}
		if e.notifier != nil {
			e.notifier.NotifyThrottled(req.Repo, queue)
		}
		if e.logger != nil {
			e.logger.Warn("Provider throttled, starting fallback build",
				logger.WithField("repo", req.Repo),
				logger.WithField("queue", queue.Round(time.Second)))
		}
	}

	def, err := router.LoadWorkflow(req.WorkflowFile)
	if err != nil {
		report.Failures = append(report.Failures, err.Error())
		return report, err
	}
	targets, err := e.router.Plan(def, req.Platforms)
	if err != nil {
		report.Failures = append(report.Failures, err.Error())
		return report, err
	}

	record := &types.RunRecord{
		RunID:     report.RunID,
		Repo:      req.Repo,
		Version:   req.Version,
		Platforms: req.Platforms,
		Status:    types.RunStatusRunning,
		Targets:   targets,
		StartedAt: report.StartedAt,
	}
	if err := e.locks.WriteRunRecord(record); err != nil {
		report.Failures = append(report.Failures, err.Error())
		return report, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Execution.RunTimeout())
	defer cancel()

	g, gctx := NewSafeGroup(runCtx, e.logger)
	hbCtx, hbCancel := context.WithCancel(gctx)
	g.Go(func() error {
		defer hbCancel()
		e.executor.Run(gctx, req.WorkflowFile, targets)
		return nil
	})
	g.Go(func() error {
		e.heartbeatLoop(hbCtx, handle)
		return nil
	})
	if err := g.Wait(); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}

	record.Status = types.DeriveRunStatus(targets)

	var produced []*types.Artifact
	for _, t := range targets {
		if t.Status == types.TargetStatusSuccess && t.Produced != nil {
			produced = append(produced, t.Produced)
		}
	}
	if len(produced) > 0 {
		manifest, failures := e.consolidator.Consolidate(ctx, record, produced)
		report.Released = manifest.Artifacts
		for _, f := range failures {
			report.Failures = append(report.Failures, fmt.Sprintf("release %s: %s (%s)", f.Stage, f.Error, f.Artifact))
		}
		if installerFailure := e.generateInstaller(req, record); installerFailure != "" {
			failures = append(failures, release.Failure{Stage: "installer", Error: installerFailure})
			report.Failures = append(report.Failures, "installer: "+installerFailure)
		}
		// Signing, SBOM, or consolidation failures demote an otherwise
		// clean run.
		if len(failures) > 0 && record.Status == types.RunStatusSuccess {
			record.Status = types.RunStatusPartial
		}
	}

	record.CompletedAt = time.Now()
	if err := e.locks.WriteRunRecord(record); err != nil && e.logger != nil {
		e.logger.Warn("Failed to persist final run record", logger.WithField("error", err))
	}

	report.Status = record.Status
	for _, t := range targets {
		report.Targets = append(report.Targets, targetResult(t))
	}

	if e.notifier != nil {
		e.notifier.NotifyRunComplete(req.Repo, report.Status, time.Since(report.StartedAt))
	}
	if ctx.Err() != nil {
		return report, fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return report, nil
}

// Check runs a batch throttle check without taking any locks
func (e *Engine) Check(ctx context.Context, repos []string) (*types.ThrottleReport, error) {
	return e.detector.Check(ctx, repos, e.config.Throttle.Workflow, e.config.Throttle.Threshold())
}

// Locks exposes the lock manager for inspection commands
func (e *Engine) Locks() *locker.Manager { return e.locks }

// heartbeatLoop refreshes the lock's liveness timestamp until the run ends
func (e *Engine) heartbeatLoop(ctx context.Context, handle interfaces.LockHandle) {
	ticker := time.NewTicker(e.config.Lock.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := handle.Heartbeat(); err != nil && e.logger != nil {
				e.logger.Debug("Failed to refresh lock heartbeat", logger.WithField("error", err))
			}
		}
	}
}

func (e *Engine) generateInstaller(req RunRequest, record *types.RunRecord) string {
	if req.InstallerScript == "" {
		return ""
	}
	data, err := os.ReadFile(req.InstallerScript)
	if err != nil {
		return err.Error()
	}
	_, err = release.WriteInstaller(string(data), release.InstallerRequest{
		Repo:        record.Repo,
		Version:     record.Version,
		DownloadURL: fmt.Sprintf("https://github.com/%s/releases/download/%s", record.Repo, record.Version),
	}, e.releaseDir())
	if err != nil {
		return err.Error()
	}
	return ""
}

func (e *Engine) releaseDir() string {
	return filepath.Join(e.locks.StateDir(), "release")
}

func targetResult(t *types.BuildTarget) types.TargetResult {
	result := types.TargetResult{
		JobName:  t.JobName,
		Platform: t.Platform,
		Triple:   t.Triple(),
		Strategy: t.Strategy,
		Status:   t.Status,
		Cause:    t.Cause,
		Error:    t.Error,
	}
	if t.Produced != nil {
		result.Artifact = t.Produced.Path
	}
	if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() {
		result.Duration = t.CompletedAt.Sub(t.StartedAt).Round(time.Millisecond).String()
	}
	return result
}
