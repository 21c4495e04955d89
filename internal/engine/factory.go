package engine

import (
	"os"
	"path/filepath"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/ci"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/collab"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/executor"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/locker"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/notifier"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/release"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/router"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// Dependencies are the collaborators an engine is assembled from.
// Non-nil overrides replace the exec-backed defaults, which keeps the
// engine testable without the external tools installed.
type Dependencies struct {
	StatusClient interfaces.CIStatusClient
	Container    interfaces.ContainerRunner
	Remote       interfaces.RemoteHost
	Signer       interfaces.Signer
	SBOM         interfaces.SBOMGenerator
	Notifier     interfaces.RunNotifier
}

// Factory assembles an engine from configuration
type Factory struct {
	projectRoot string
	logger      logger.Logger
	config      *types.Config
}

// NewFactory creates an engine factory
func NewFactory(projectRoot string, log logger.Logger, config *types.Config) *Factory {
	return &Factory{
		projectRoot: projectRoot,
		logger:      log,
		config:      config,
	}
}

// Build wires the engine with defaults, applying any overrides
func (f *Factory) Build(overrides Dependencies) (*Engine, error) {
	stateDir := f.config.Lock.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(f.projectRoot, ".selfreleaser")
	}

	locks, err := locker.NewManager(stateDir, f.config.Lock.HeartbeatTimeout(), f.logger)
	if err != nil {
		return nil, err
	}

	deps := f.defaults()
	if overrides.StatusClient != nil {
		deps.StatusClient = overrides.StatusClient
	}
	if overrides.Container != nil {
		deps.Container = overrides.Container
	}
	if overrides.Remote != nil {
		deps.Remote = overrides.Remote
	}
	if overrides.Signer != nil {
		deps.Signer = overrides.Signer
	}
	if overrides.SBOM != nil {
		deps.SBOM = overrides.SBOM
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}

	detector := ci.NewDetector(deps.StatusClient, f.logger, f.config.Throttle.RetryCount())
	rt := router.New(f.config.Hosts, f.logger)
	exec := executor.New(deps.Container, deps.Remote, f.logger, executor.Options{
		ContainerParallelism: f.config.Execution.ContainerParallelism,
		TargetTimeout:        f.config.Execution.TargetTimeout(),
		LogDir:               filepath.Join(stateDir, "logs"),
		ArtifactDir:          filepath.Join(stateDir, "artifacts"),
	})
	consolidator := release.NewConsolidator(deps.Signer, deps.SBOM, f.logger, filepath.Join(stateDir, "release"))

	return New(locks, detector, rt, exec, consolidator, deps.Notifier, f.logger, f.config), nil
}

func (f *Factory) defaults() Dependencies {
	deps := Dependencies{
		StatusClient: ci.NewGitHubClient(os.Getenv("GITHUB_TOKEN")),
		Container:    collab.NewActRunner(),
		Remote:       collab.NewSSHHost(),
		Signer:       collab.NewCosignSigner(os.Getenv("COSIGN_KEY")),
		SBOM:         collab.NewSyftGenerator(),
	}
	if f.config.Notifications != nil &&
		f.config.Notifications.Enabled != nil &&
		*f.config.Notifications.Enabled {
		deps.Notifier = notifier.New(notifier.Config{
			Enabled:      true,
			FailureSound: f.config.Notifications.FailureSound,
		}, f.logger)
	}
	return deps
}
