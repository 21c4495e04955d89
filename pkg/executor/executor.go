// Package executor runs a dependency-ordered build plan across the local
// container host and the native remote hosts
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// Options configures an executor
type Options struct {
	// ContainerParallelism bounds concurrent container-replay jobs on the
	// local host. Native-remote hosts always run their jobs serially.
	ContainerParallelism int
	TargetTimeout        time.Duration
	LogDir               string
	ArtifactDir          string
}

// Executor schedules build targets the moment their dependencies succeed
type Executor struct {
	container interfaces.ContainerRunner
	remote    interfaces.RemoteHost
	logger    logger.Logger
	opts      Options

	containerSem *semaphore.Weighted
	hostMu       map[string]*sync.Mutex
	hostMuGuard  sync.Mutex
}

// New creates a build executor
func New(container interfaces.ContainerRunner, remote interfaces.RemoteHost, log logger.Logger, opts Options) *Executor {
	if opts.ContainerParallelism <= 0 {
		opts.ContainerParallelism = 2
	}
	if opts.TargetTimeout <= 0 {
		opts.TargetTimeout = 30 * time.Minute
	}
	return &Executor{
		container:    container,
		remote:       remote,
		logger:       log,
		opts:         opts,
		containerSem: semaphore.NewWeighted(int64(opts.ContainerParallelism)),
		hostMu:       make(map[string]*sync.Mutex),
	}
}

// Run executes the plan, mutating target statuses in place. A target
// becomes eligible the instant all its dependencies are successful;
// eligible targets across strategies run concurrently. Failures never
// abort siblings: only targets downstream of a failure are skipped.
// Cancellation forces remaining pending targets to skipped and waits for
// in-flight work to wind down.
func (e *Executor) Run(ctx context.Context, workflowFile string, targets []*types.BuildTarget) {
	byName := make(map[string]*types.BuildTarget, len(targets))
	for _, t := range targets {
		byName[t.JobName] = t
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	done := make(chan string, len(targets))

	running := 0
	for {
		mu.Lock()
		if ctx.Err() != nil {
			for _, t := range targets {
				if t.Status == types.TargetStatusPending {
					t.Status = types.TargetStatusSkipped
					t.Cause = types.CauseInterrupted
				}
			}
		} else {
			e.propagateSkips(targets, byName)
			for _, t := range targets {
				if t.Status != types.TargetStatusPending || !depsSucceeded(t, byName) {
					continue
				}
				t.Status = types.TargetStatusRunning
				t.StartedAt = time.Now()
				running++
				wg.Add(1)
				go func(t *types.BuildTarget) {
					defer wg.Done()
					e.executeTarget(ctx, workflowFile, t, &mu)
					done <- t.JobName
				}(t)
			}
		}
		if running == 0 {
			// The router guarantees an acyclic graph, so with nothing
			// in flight every remaining pending target was either
			// launched or skipped above.
			for _, t := range targets {
				if t.Status == types.TargetStatusPending {
					t.Status = types.TargetStatusSkipped
					t.Cause = types.CauseDependencyFailed
				}
			}
			mu.Unlock()
			break
		}
		mu.Unlock()

		var name string
		if ctx.Err() != nil {
			// Cancelled: drain in-flight targets, nothing new launches.
			name = <-done
		} else {
			select {
			case name = <-done:
			case <-ctx.Done():
				// Loop once more to mark stragglers skipped.
				continue
			}
		}
		running--
		if e.logger != nil {
			t := byName[name]
			e.logger.Debug("Target finished",
				logger.WithField("job", name),
				logger.WithField("status", t.Status))
		}
	}

	wg.Wait()
}

// propagateSkips marks pending targets downstream of a failure as skipped
func (e *Executor) propagateSkips(targets []*types.BuildTarget, byName map[string]*types.BuildTarget) {
	for changed := true; changed; {
		changed = false
		for _, t := range targets {
			if t.Status != types.TargetStatusPending {
				continue
			}
			for _, dep := range t.Needs {
				d, ok := byName[dep]
				if !ok {
					continue
				}
				if d.Status == types.TargetStatusFailed || d.Status == types.TargetStatusSkipped {
					t.Status = types.TargetStatusSkipped
					t.Cause = types.CauseDependencyFailed
					t.Error = fmt.Sprintf("dependency %s did not succeed", dep)
					changed = true
					break
				}
			}
		}
	}
}

func depsSucceeded(t *types.BuildTarget, byName map[string]*types.BuildTarget) bool {
	for _, dep := range t.Needs {
		d, ok := byName[dep]
		if !ok || d.Status != types.TargetStatusSuccess {
			return false
		}
	}
	return true
}

// executeTarget runs one target under its strategy's concurrency limit and
// per-target timeout, then classifies the outcome. The scheduler mutex
// guards the final status write against the ready-queue scan.
func (e *Executor) executeTarget(ctx context.Context, workflowFile string, t *types.BuildTarget, mu *sync.Mutex) {
	tctx, cancel := context.WithTimeout(ctx, e.opts.TargetTimeout)
	defer cancel()

	logWriter, closeLog := e.openBuildLog(t.JobName)
	defer closeLog()

	var err error
	switch t.Strategy {
	case types.StrategyContainerReplay:
		err = e.runContainer(tctx, workflowFile, t, logWriter)
	case types.StrategyNativeRemote:
		err = e.runRemote(tctx, t, logWriter)
	default:
		err = fmt.Errorf("no execution strategy for target %s", t.JobName)
	}

	mu.Lock()
	t.CompletedAt = time.Now()
	if err == nil {
		t.Status = types.TargetStatusSuccess
		mu.Unlock()
		if e.logger != nil {
			e.logger.WithTarget(t.JobName).Success(
				fmt.Sprintf("Built %s in %s", t.Triple(), time.Since(t.StartedAt).Round(time.Second)))
		}
		return
	}

	t.Status = types.TargetStatusFailed
	t.Error = err.Error()
	if t.Cause == types.CauseNone {
		switch {
		case errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			t.Cause = types.CauseTimeout
		case ctx.Err() != nil:
			t.Cause = types.CauseInterrupted
		default:
			t.Cause = types.CauseExecution
		}
	}
	cause := t.Cause
	mu.Unlock()

	if e.logger != nil {
		e.logger.WithTarget(t.JobName).Error("Build failed",
			logger.WithField("cause", cause),
			logger.WithField("error", err))
	}
}

func (e *Executor) runContainer(ctx context.Context, workflowFile string, t *types.BuildTarget, output io.Writer) error {
	if err := e.containerSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.containerSem.Release(1)

	res, err := e.container.Run(ctx, workflowFile, t.JobName, output)
	if err != nil {
		return fmt.Errorf("container replay: %w", err)
	}
	if res.ExitCode != 0 {
		t.Cause = types.CauseExit
		return fmt.Errorf("container replay exited with status %d", res.ExitCode)
	}
	return e.captureLocalArtifact(t, res.ArtifactPaths)
}

func (e *Executor) runRemote(ctx context.Context, t *types.BuildTarget, output io.Writer) error {
	if len(t.Commands) == 0 {
		return fmt.Errorf("target %s declares no build commands", t.JobName)
	}

	// One physical machine per host identity: its jobs run serially.
	hostLock := e.lockForHost(t.Host)
	hostLock.Lock()
	defer hostLock.Unlock()

	command := strings.Join(t.Commands, " && ")
	exitCode, err := e.remote.Execute(ctx, t.Host, command, output)
	if err != nil {
		return fmt.Errorf("remote execution on %s: %w", t.Host, err)
	}
	if exitCode != 0 {
		t.Cause = types.CauseExit
		return fmt.Errorf("remote build on %s exited with status %d", t.Host, exitCode)
	}

	return e.fetchRemoteArtifact(ctx, t)
}

// captureLocalArtifact registers the produced output of a container job.
// A process that exits zero without its declared artifact is not a
// success.
func (e *Executor) captureLocalArtifact(t *types.BuildTarget, produced []string) error {
	candidates := append(append([]string(nil), produced...), t.Artifacts...)
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		t.Produced = &types.Artifact{
			Platform: t.Triple(),
			Path:     path,
			Size:     info.Size(),
		}
		return nil
	}
	t.Cause = types.CauseMissingArtifact
	return fmt.Errorf("build exited cleanly but produced no artifact (declared: %v)", t.Artifacts)
}

func (e *Executor) fetchRemoteArtifact(ctx context.Context, t *types.BuildTarget) error {
	if len(t.Artifacts) == 0 {
		t.Cause = types.CauseMissingArtifact
		return fmt.Errorf("target %s declares no artifact paths", t.JobName)
	}
	localDir := e.opts.ArtifactDir
	if localDir == "" {
		localDir = os.TempDir()
	}
	var lastErr error
	for _, remotePath := range t.Artifacts {
		local, err := e.remote.FetchFile(ctx, t.Host, remotePath, localDir)
		if err != nil {
			lastErr = err
			continue
		}
		info, err := os.Stat(local)
		if err != nil {
			lastErr = err
			continue
		}
		t.Produced = &types.Artifact{
			Platform: t.Triple(),
			Path:     local,
			Size:     info.Size(),
		}
		return nil
	}
	t.Cause = types.CauseMissingArtifact
	if lastErr != nil {
		return fmt.Errorf("build exited cleanly but artifact fetch failed: %w", lastErr)
	}
	return fmt.Errorf("build exited cleanly but produced no artifact (declared: %v)", t.Artifacts)
}

func (e *Executor) lockForHost(host string) *sync.Mutex {
	e.hostMuGuard.Lock()
	defer e.hostMuGuard.Unlock()
	if _, ok := e.hostMu[host]; !ok {
		e.hostMu[host] = &sync.Mutex{}
	}
	return e.hostMu[host]
}

// openBuildLog tees collaborator output into a per-target log file
func (e *Executor) openBuildLog(jobName string) (io.Writer, func()) {
	if e.opts.LogDir == "" {
		return io.Discard, func() {}
	}
	if err := os.MkdirAll(e.opts.LogDir, 0o755); err != nil {
		return io.Discard, func() {}
	}
	path := filepath.Join(e.opts.LogDir, jobName+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return io.Discard, func() {}
	}
	fmt.Fprintf(f, "\n=== Build started at %s ===\n", time.Now().Format("2006-01-02 15:04:05"))
	return f, func() { f.Close() }
}
