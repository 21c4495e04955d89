package executor_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/executor"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// fakeContainer replays jobs by touching the artifact files a real run
// would produce
type fakeContainer struct {
	mu          sync.Mutex
	artifactDir string
	failJobs    map[string]bool
	noArtifact  map[string]bool
	delay       time.Duration

	order      []string
	concurrent int
	maxSeen    int
}

func (f *fakeContainer) Run(ctx context.Context, workflowFile, jobName string, output io.Writer) (*interfaces.ContainerResult, error) {
	f.mu.Lock()
	f.order = append(f.order, jobName)
	f.concurrent++
	if f.concurrent > f.maxSeen {
		f.maxSeen = f.concurrent
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.concurrent--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fmt.Fprintf(output, "replaying %s\n", jobName)

	if f.failJobs[jobName] {
		return &interfaces.ContainerResult{ExitCode: 1}, nil
	}
	if f.noArtifact[jobName] {
		return &interfaces.ContainerResult{ExitCode: 0}, nil
	}

	path := filepath.Join(f.artifactDir, jobName+".tar.gz")
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		return nil, err
	}
	return &interfaces.ContainerResult{ExitCode: 0, ArtifactPaths: []string{path}}, nil
}

// fakeRemote serves Execute and FetchFile for native-remote targets
type fakeRemote struct {
	mu        sync.Mutex
	failHosts map[string]bool

	commands       map[string]string // host -> last command
	perHostActive  map[string]int
	perHostMaxSeen map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		failHosts:      map[string]bool{},
		commands:       map[string]string{},
		perHostActive:  map[string]int{},
		perHostMaxSeen: map[string]int{},
	}
}

func (f *fakeRemote) Execute(ctx context.Context, host, command string, output io.Writer) (int, error) {
	f.mu.Lock()
	f.commands[host] = command
	f.perHostActive[host]++
	if f.perHostActive[host] > f.perHostMaxSeen[host] {
		f.perHostMaxSeen[host] = f.perHostActive[host]
	}
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.perHostActive[host]--
	f.mu.Unlock()

	if f.failHosts[host] {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeRemote) FetchFile(ctx context.Context, host, remotePath, localDir string) (string, error) {
	local := filepath.Join(localDir, filepath.Base(remotePath))
	if err := os.WriteFile(local, []byte("remote artifact"), 0o644); err != nil {
		return "", err
	}
	return local, nil
}

func containerTarget(name string, needs ...string) *types.BuildTarget {
	return &types.BuildTarget{
		JobName:  name,
		Platform: "ubuntu-latest",
		OS:       "linux",
		Arch:     "amd64",
		Strategy: types.StrategyContainerReplay,
		Needs:    needs,
		Status:   types.TargetStatusPending,
	}
}

func remoteTarget(name, host string) *types.BuildTarget {
	return &types.BuildTarget{
		JobName:   name,
		Platform:  "macos-14",
		OS:        "darwin",
		Arch:      "arm64",
		Strategy:  types.StrategyNativeRemote,
		Host:      host,
		Commands:  []string{"make", "make dist"},
		Artifacts: []string{"dist/" + name + ".tar.gz"},
		Status:    types.TargetStatusPending,
	}
}

func TestRunAllTargetsSucceed(t *testing.T) {
	dir := t.TempDir()
	container := &fakeContainer{artifactDir: dir}
	exec := executor.New(container, newFakeRemote(), nil, executor.Options{ArtifactDir: dir})

	targets := []*types.BuildTarget{
		containerTarget("build-a"),
		containerTarget("build-b"),
	}
	exec.Run(context.Background(), "release.yml", targets)

	for _, target := range targets {
		if target.Status != types.TargetStatusSuccess {
			t.Errorf("%s: status %s (%s)", target.JobName, target.Status, target.Error)
		}
		if target.Produced == nil {
			t.Errorf("%s: no artifact captured", target.JobName)
		} else if target.Produced.Platform != "linux/amd64" {
			t.Errorf("%s: artifact platform %s", target.JobName, target.Produced.Platform)
		}
	}
}

func TestRunRespectsDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	container := &fakeContainer{artifactDir: dir}
	exec := executor.New(container, newFakeRemote(), nil, executor.Options{ArtifactDir: dir})

	targets := []*types.BuildTarget{
		containerTarget("publish", "build"),
		containerTarget("build", "prepare"),
		containerTarget("prepare"),
	}
	exec.Run(context.Background(), "release.yml", targets)

	position := map[string]int{}
	for i, name := range container.order {
		position[name] = i
	}
	if position["prepare"] > position["build"] || position["build"] > position["publish"] {
		t.Errorf("start order violates dependencies: %v", container.order)
	}
}

func TestRunFailurePropagatesSkips(t *testing.T) {
	dir := t.TempDir()
	container := &fakeContainer{
		artifactDir: dir,
		failJobs:    map[string]bool{"build": true},
	}
	exec := executor.New(container, newFakeRemote(), nil, executor.Options{ArtifactDir: dir})

	build := containerTarget("build")
	pack := containerTarget("package", "build")
	publish := containerTarget("publish", "package")
	other := containerTarget("other")
	targets := []*types.BuildTarget{build, pack, publish, other}

	exec.Run(context.Background(), "release.yml", targets)

	if build.Status != types.TargetStatusFailed || build.Cause != types.CauseExit {
		t.Errorf("build: %s/%s", build.Status, build.Cause)
	}
	for _, skipped := range []*types.BuildTarget{pack, publish} {
		if skipped.Status != types.TargetStatusSkipped || skipped.Cause != types.CauseDependencyFailed {
			t.Errorf("%s: %s/%s, want skipped/dependency-failed", skipped.JobName, skipped.Status, skipped.Cause)
		}
	}
	if other.Status != types.TargetStatusSuccess {
		t.Errorf("unrelated target must still run: %s", other.Status)
	}
}

func TestRunMissingArtifactFailsTarget(t *testing.T) {
	dir := t.TempDir()
	container := &fakeContainer{
		artifactDir: dir,
		noArtifact:  map[string]bool{"build": true},
	}
	exec := executor.New(container, newFakeRemote(), nil, executor.Options{ArtifactDir: dir})

	build := containerTarget("build")
	exec.Run(context.Background(), "release.yml", []*types.BuildTarget{build})

	if build.Status != types.TargetStatusFailed {
		t.Fatalf("status %s, want failed", build.Status)
	}
	if build.Cause != types.CauseMissingArtifact {
		t.Errorf("cause %s, want missing-artifact", build.Cause)
	}
}

func TestRunContainerParallelismBounded(t *testing.T) {
	dir := t.TempDir()
	container := &fakeContainer{artifactDir: dir, delay: 20 * time.Millisecond}
	exec := executor.New(container, newFakeRemote(), nil, executor.Options{
		ContainerParallelism: 1,
		ArtifactDir:          dir,
	})

	targets := []*types.BuildTarget{
		containerTarget("build-a"),
		containerTarget("build-b"),
		containerTarget("build-c"),
	}
	exec.Run(context.Background(), "release.yml", targets)

	if container.maxSeen > 1 {
		t.Errorf("container parallelism 1 violated: saw %d concurrent", container.maxSeen)
	}
}

func TestRunNativeHostSerialized(t *testing.T) {
	dir := t.TempDir()
	remote := newFakeRemote()
	exec := executor.New(&fakeContainer{artifactDir: dir}, remote, nil, executor.Options{ArtifactDir: dir})

	targets := []*types.BuildTarget{
		remoteTarget("mac-build", "builder@mac.local"),
		remoteTarget("mac-sign", "builder@mac.local"),
	}
	exec.Run(context.Background(), "release.yml", targets)

	if remote.perHostMaxSeen["builder@mac.local"] > 1 {
		t.Errorf("same-host jobs ran concurrently: %d", remote.perHostMaxSeen["builder@mac.local"])
	}
	for _, target := range targets {
		if target.Status != types.TargetStatusSuccess {
			t.Errorf("%s: %s (%s)", target.JobName, target.Status, target.Error)
		}
	}
}

func TestRunRemoteCommandsJoined(t *testing.T) {
	dir := t.TempDir()
	remote := newFakeRemote()
	exec := executor.New(&fakeContainer{artifactDir: dir}, remote, nil, executor.Options{ArtifactDir: dir})

	exec.Run(context.Background(), "release.yml", []*types.BuildTarget{
		remoteTarget("mac-build", "builder@mac.local"),
	})

	command := remote.commands["builder@mac.local"]
	if !strings.Contains(command, " && ") {
		t.Errorf("commands should chain with &&: %q", command)
	}
}

func TestRunRemoteExitFailure(t *testing.T) {
	dir := t.TempDir()
	remote := newFakeRemote()
	remote.failHosts["builder@win.local"] = true
	exec := executor.New(&fakeContainer{artifactDir: dir}, remote, nil, executor.Options{ArtifactDir: dir})

	target := remoteTarget("win-build", "builder@win.local")
	exec.Run(context.Background(), "release.yml", []*types.BuildTarget{target})

	if target.Status != types.TargetStatusFailed || target.Cause != types.CauseExit {
		t.Errorf("got %s/%s, want failed/nonzero-exit", target.Status, target.Cause)
	}
}

func TestRunCancelledContextSkipsPending(t *testing.T) {
	dir := t.TempDir()
	container := &fakeContainer{artifactDir: dir}
	exec := executor.New(container, newFakeRemote(), nil, executor.Options{ArtifactDir: dir})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	targets := []*types.BuildTarget{
		containerTarget("build-a"),
		containerTarget("build-b"),
	}
	exec.Run(ctx, "release.yml", targets)

	for _, target := range targets {
		if target.Status != types.TargetStatusSkipped || target.Cause != types.CauseInterrupted {
			t.Errorf("%s: %s/%s, want skipped/interrupted", target.JobName, target.Status, target.Cause)
		}
	}
	if len(container.order) != 0 {
		t.Errorf("nothing should launch after cancellation: %v", container.order)
	}
}

func TestRunPreFailedTargetSkipsDependents(t *testing.T) {
	dir := t.TempDir()
	container := &fakeContainer{artifactDir: dir}
	exec := executor.New(container, newFakeRemote(), nil, executor.Options{ArtifactDir: dir})

	// The router pre-fails targets it cannot place; the executor must not
	// resurrect them.
	bad := containerTarget("build-bsd")
	bad.Status = types.TargetStatusFailed
	bad.Cause = types.CauseUnsupportedPlatform
	dependent := containerTarget("publish", "build-bsd")

	exec.Run(context.Background(), "release.yml", []*types.BuildTarget{bad, dependent})

	if bad.Status != types.TargetStatusFailed {
		t.Errorf("pre-failed target mutated: %s", bad.Status)
	}
	if dependent.Status != types.TargetStatusSkipped || dependent.Cause != types.CauseDependencyFailed {
		t.Errorf("dependent: %s/%s", dependent.Status, dependent.Cause)
	}
}
