// Package types provides core types and configurations for the self-releaser
package types

import (
	"time"
)

// RunStatus represents the terminal outcome of a fallback run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusError   RunStatus = "error"
)

// TargetStatus represents the state of a single build target
type TargetStatus string

const (
	TargetStatusPending TargetStatus = "pending"
	TargetStatusRunning TargetStatus = "running"
	TargetStatusSuccess TargetStatus = "success"
	TargetStatusFailed  TargetStatus = "failed"
	TargetStatusSkipped TargetStatus = "skipped"
)

// Terminal reports whether the status can no longer change
func (s TargetStatus) Terminal() bool {
	return s == TargetStatusSuccess || s == TargetStatusFailed || s == TargetStatusSkipped
}

// Strategy represents how a build target is executed
type Strategy string

const (
	StrategyContainerReplay Strategy = "container-replay"
	StrategyNativeRemote    Strategy = "native-remote"
)

// FailureCause classifies why a target failed
type FailureCause string

const (
	CauseNone                FailureCause = ""
	CauseExit                FailureCause = "nonzero-exit"
	CauseTimeout             FailureCause = "timeout"
	CauseMissingArtifact     FailureCause = "missing-artifact"
	CauseDependencyFailed    FailureCause = "dependency-failed"
	CauseUnsupportedPlatform FailureCause = "unsupported-platform"
	CauseInterrupted         FailureCause = "interrupted"
	CauseExecution           FailureCause = "execution-error"
)

// PatternSource identifies which heuristic inferred a naming pattern
type PatternSource string

const (
	PatternSourceExplicitVariable PatternSource = "explicit-variable"
	PatternSourceURLDerived       PatternSource = "url-derived"
	PatternSourceNone             PatternSource = "none"
)

// NamingPattern is the inferred artifact naming convention of an installer
// script. It is computed per request and never persisted.
type NamingPattern struct {
	Template string        `json:"template"`
	Source   PatternSource `json:"source"`
}

// WorkflowJob is one job from a CI workflow definition
type WorkflowJob struct {
	Name      string   `json:"name" yaml:"name"`
	RunsOn    string   `json:"runsOn" yaml:"runs-on"`
	Needs     []string `json:"needs,omitempty" yaml:"needs,omitempty"`
	Commands  []string `json:"commands,omitempty" yaml:"commands,omitempty"`
	Artifacts []string `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// WorkflowDefinition is the structured job graph the router expands
type WorkflowDefinition struct {
	Name string                 `json:"name" yaml:"name"`
	Path string                 `json:"path,omitempty" yaml:"-"`
	Jobs map[string]WorkflowJob `json:"jobs" yaml:"jobs"`
}

// BuildTarget is one platform within a run. Created by the router,
// mutated only by the executor, immutable once terminal.
type BuildTarget struct {
	JobName     string       `json:"jobName"`
	Platform    string       `json:"platform"` // label from the workflow, e.g. ubuntu-latest
	OS          string       `json:"os"`
	Arch        string       `json:"arch"`
	Strategy    Strategy     `json:"strategy"`
	Host        string       `json:"host,omitempty"` // native-remote host identity
	Needs       []string     `json:"needs,omitempty"`
	Artifacts   []string     `json:"artifacts,omitempty"` // declared output paths
	Commands    []string     `json:"-"`
	Status      TargetStatus `json:"status"`
	Cause       FailureCause `json:"cause,omitempty"`
	Error       string       `json:"error,omitempty"`
	Produced    *Artifact    `json:"produced,omitempty"`
	StartedAt   time.Time    `json:"startedAt,omitempty"`
	CompletedAt time.Time    `json:"completedAt,omitempty"`
}

// Triple returns the platform triple for reporting
func (t *BuildTarget) Triple() string {
	return t.OS + "/" + t.Arch
}

// Artifact is one produced build output
type Artifact struct {
	Platform      string `json:"platform"`
	Path          string `json:"path"`
	SHA256        string `json:"sha256,omitempty"`
	Size          int64  `json:"size,omitempty"`
	Signed        bool   `json:"signed"`
	SignaturePath string `json:"signaturePath,omitempty"`
	SBOMPath      string `json:"sbomPath,omitempty"`
}

// RunRecord is the persisted state of one fallback run
type RunRecord struct {
	RunID       string         `json:"runId"`
	Repo        string         `json:"repo"`
	Version     string         `json:"version"`
	Platforms   []string       `json:"platforms,omitempty"`
	Status      RunStatus      `json:"status"`
	Targets     []*BuildTarget `json:"targets,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt,omitempty"`
}

// TargetResult is the reporting view of a finished build target
type TargetResult struct {
	JobName  string       `json:"jobName"`
	Platform string       `json:"platform"`
	Triple   string       `json:"triple"`
	Strategy Strategy     `json:"strategy"`
	Status   TargetStatus `json:"status"`
	Cause    FailureCause `json:"cause,omitempty"`
	Error    string       `json:"error,omitempty"`
	Artifact string       `json:"artifact,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

// RunReport is the envelope the coordinator emits for any caller.
// The field set is a fixed contract with the surrounding CLI layer.
type RunReport struct {
	RunID       string         `json:"runId"`
	Repo        string         `json:"repo"`
	Version     string         `json:"version"`
	Status      RunStatus      `json:"status"`
	Throttled   *bool          `json:"throttled,omitempty"`
	Targets     []TargetResult `json:"targets"`
	Released    []Artifact     `json:"released,omitempty"`
	Failures    []string       `json:"failures,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Duration    string         `json:"duration"`
}

// RepoStatus is the throttle classification for one repository
type RepoStatus struct {
	Repo      string `json:"repo"`
	QueueSecs int64  `json:"queueSeconds"`
	Error     string `json:"error,omitempty"`
}

// ThrottleReport is the output of a throttle check batch
type ThrottleReport struct {
	Throttled []RepoStatus `json:"throttled"`
	Healthy   []RepoStatus `json:"healthy"`
	Errored   []RepoStatus `json:"errored,omitempty"`
}

// HostConfig identifies the statically configured native build hosts
type HostConfig struct {
	MacOS   string `json:"macos" yaml:"macos"`
	Windows string `json:"windows" yaml:"windows"`
}

// ThrottleConfig controls throttle detection
type ThrottleConfig struct {
	Workflow         string `json:"workflow" yaml:"workflow"`
	ThresholdSeconds int    `json:"thresholdSeconds" yaml:"thresholdSeconds"`
	Retries          *int   `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// ExecutionConfig controls build execution
type ExecutionConfig struct {
	ContainerParallelism int `json:"containerParallelism" yaml:"containerParallelism"`
	TargetTimeoutMinutes int `json:"targetTimeoutMinutes" yaml:"targetTimeoutMinutes"`
	RunTimeoutMinutes    int `json:"runTimeoutMinutes" yaml:"runTimeoutMinutes"`
}

// LockConfig controls the shared state directory locking
type LockConfig struct {
	StateDir              string `json:"stateDir,omitempty" yaml:"stateDir,omitempty"`
	HeartbeatTimeoutSecs  int    `json:"heartbeatTimeoutSeconds" yaml:"heartbeatTimeoutSeconds"`
	HeartbeatIntervalSecs int    `json:"heartbeatIntervalSeconds" yaml:"heartbeatIntervalSeconds"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// Config is the main configuration
type Config struct {
	Version       string              `json:"version" yaml:"version"`
	Hosts         HostConfig          `json:"hosts" yaml:"hosts"`
	Throttle      ThrottleConfig      `json:"throttle" yaml:"throttle"`
	Execution     ExecutionConfig     `json:"execution" yaml:"execution"`
	Lock          LockConfig          `json:"lock" yaml:"lock"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging       *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// RetryCount returns the configured retry count or the default
func (c ThrottleConfig) RetryCount() int {
	if c.Retries != nil {
		return *c.Retries
	}
	return 3
}

// Threshold returns the queue-time threshold as a duration
func (c ThrottleConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdSeconds) * time.Second
}

// TargetTimeout returns the per-target timeout as a duration
func (c ExecutionConfig) TargetTimeout() time.Duration {
	if c.TargetTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.TargetTimeoutMinutes) * time.Minute
}

// RunTimeout returns the whole-run timeout as a duration
func (c ExecutionConfig) RunTimeout() time.Duration {
	if c.RunTimeoutMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// HeartbeatTimeout returns the staleness cutoff for lock heartbeats
func (c LockConfig) HeartbeatTimeout() time.Duration {
	if c.HeartbeatTimeoutSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.HeartbeatTimeoutSecs) * time.Second
}

// HeartbeatInterval returns how often a live run refreshes its lock
func (c LockConfig) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HeartbeatIntervalSecs) * time.Second
}

// DeriveRunStatus folds target outcomes into the run-level status.
// All success is success; anything less with targets attempted is partial;
// error is reserved for runs where no target was attempted at all.
func DeriveRunStatus(targets []*BuildTarget) RunStatus {
	if len(targets) == 0 {
		return RunStatusError
	}
	for _, t := range targets {
		if t.Status != TargetStatusSuccess {
			return RunStatusPartial
		}
	}
	return RunStatusSuccess
}
