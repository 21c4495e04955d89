// Package interfaces defines the external collaborator contracts the
// orchestration engine depends on. Everything behind these interfaces is
// treated as a black box: the engine never implements its own container
// runtime, remote execution protocol, or signing primitive.
package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// CIStatusClient fetches queue-time data from the hosted CI provider
type CIStatusClient interface {
	// QueueTime returns how long the most recent relevant run of the
	// workflow sat in the provider's queue before starting.
	QueueTime(ctx context.Context, repo, workflow string) (time.Duration, error)
}

// ContainerResult is the outcome of one containerized workflow-job replay
type ContainerResult struct {
	ExitCode      int
	ArtifactPaths []string
}

// ContainerRunner replays a workflow job inside a local container
type ContainerRunner interface {
	Run(ctx context.Context, workflowFile, jobName string, output io.Writer) (*ContainerResult, error)
}

// RemoteHost executes commands on a statically configured native build host
type RemoteHost interface {
	Execute(ctx context.Context, host, command string, output io.Writer) (int, error)
	FetchFile(ctx context.Context, host, remotePath, localDir string) (string, error)
}

// Signer produces a detached signature for an artifact
type Signer interface {
	Sign(ctx context.Context, path string) (string, error)
}

// SBOMGenerator produces a software bill of materials for an artifact
type SBOMGenerator interface {
	Generate(ctx context.Context, path string) (string, error)
}

// LockManager coordinates exclusive per-repository runs across processes
type LockManager interface {
	Acquire(repo, runID string) (LockHandle, error)
	Release(handle LockHandle) error
	Inspect(repo string) (*LockState, error)
}

// LockHandle is an opaque claim on a repository lock
type LockHandle interface {
	Repo() string
	RunID() string
	Heartbeat() error
}

// LockState is the diagnostic view of a repository lock
type LockState struct {
	Held       bool      `json:"held"`
	Stale      bool      `json:"stale"`
	RunID      string    `json:"runId,omitempty"`
	PID        int       `json:"pid,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt,omitempty"`
	Heartbeat  time.Time `json:"heartbeat,omitempty"`
}

// RunNotifier surfaces run lifecycle events to the desktop
type RunNotifier interface {
	NotifyThrottled(repo string, queue time.Duration)
	NotifyRunComplete(repo string, status types.RunStatus, duration time.Duration)
}
