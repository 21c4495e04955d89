package router_test

import (
	"errors"
	"testing"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/router"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

var testHosts = types.HostConfig{
	MacOS:   "builder@mac-mini.local",
	Windows: "builder@win-box.local",
}

func definition(jobs map[string]types.WorkflowJob) *types.WorkflowDefinition {
	return &types.WorkflowDefinition{Name: "release", Jobs: jobs}
}

func TestPlanRoutesByPlatformLabel(t *testing.T) {
	r := router.New(testHosts, nil)

	targets, err := r.Plan(definition(map[string]types.WorkflowJob{
		"build-linux":   {RunsOn: "ubuntu-latest"},
		"build-macos":   {RunsOn: "macos-14"},
		"build-windows": {RunsOn: "windows-2022"},
	}), nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(targets))
	}

	byName := map[string]*types.BuildTarget{}
	for _, target := range targets {
		byName[target.JobName] = target
	}

	linux := byName["build-linux"]
	if linux.Strategy != types.StrategyContainerReplay || linux.Triple() != "linux/amd64" {
		t.Errorf("linux routed wrong: %s %s", linux.Strategy, linux.Triple())
	}
	if linux.Host != "" {
		t.Errorf("container targets have no host, got %q", linux.Host)
	}

	mac := byName["build-macos"]
	if mac.Strategy != types.StrategyNativeRemote || mac.Triple() != "darwin/arm64" {
		t.Errorf("macos routed wrong: %s %s", mac.Strategy, mac.Triple())
	}
	if mac.Host != testHosts.MacOS {
		t.Errorf("macos host wrong: %q", mac.Host)
	}

	win := byName["build-windows"]
	if win.Strategy != types.StrategyNativeRemote || win.Host != testHosts.Windows {
		t.Errorf("windows routed wrong: %s %q", win.Strategy, win.Host)
	}
}

func TestPlanDeterministicOrder(t *testing.T) {
	r := router.New(testHosts, nil)

	def := definition(map[string]types.WorkflowJob{
		"zeta":  {RunsOn: "ubuntu-latest"},
		"alpha": {RunsOn: "ubuntu-latest"},
		"mid":   {RunsOn: "ubuntu-latest"},
	})

	for i := 0; i < 5; i++ {
		targets, err := r.Plan(def, nil)
		if err != nil {
			t.Fatalf("plan failed: %v", err)
		}
		got := []string{targets[0].JobName, targets[1].JobName, targets[2].JobName}
		want := []string{"alpha", "mid", "zeta"}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("iteration %d: order %v, want %v", i, got, want)
			}
		}
	}
}

func TestPlanDependencyOrder(t *testing.T) {
	r := router.New(testHosts, nil)

	targets, err := r.Plan(definition(map[string]types.WorkflowJob{
		"publish": {RunsOn: "ubuntu-latest", Needs: []string{"build"}},
		"build":   {RunsOn: "ubuntu-latest", Needs: []string{"prepare"}},
		"prepare": {RunsOn: "ubuntu-latest"},
	}), nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	position := map[string]int{}
	for i, target := range targets {
		position[target.JobName] = i
	}
	if position["prepare"] > position["build"] || position["build"] > position["publish"] {
		t.Errorf("dependency order violated: %v", position)
	}
}

func TestPlanCycleFailsWholePlan(t *testing.T) {
	r := router.New(testHosts, nil)

	_, err := r.Plan(definition(map[string]types.WorkflowJob{
		"a": {RunsOn: "ubuntu-latest", Needs: []string{"b"}},
		"b": {RunsOn: "ubuntu-latest", Needs: []string{"a"}},
	}), nil)
	if !errors.Is(err, router.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestPlanUnknownDependency(t *testing.T) {
	r := router.New(testHosts, nil)

	_, err := r.Plan(definition(map[string]types.WorkflowJob{
		"build": {RunsOn: "ubuntu-latest", Needs: []string{"missing"}},
	}), nil)
	if !errors.Is(err, router.ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestPlanUnsupportedLabelFailsOnlyThatTarget(t *testing.T) {
	r := router.New(testHosts, nil)

	targets, err := r.Plan(definition(map[string]types.WorkflowJob{
		"build-linux": {RunsOn: "ubuntu-latest"},
		"build-bsd":   {RunsOn: "freebsd-14"},
	}), nil)
	if err != nil {
		t.Fatalf("plan must not fail for one unsupported label: %v", err)
	}

	for _, target := range targets {
		switch target.JobName {
		case "build-bsd":
			if target.Status != types.TargetStatusFailed || target.Cause != types.CauseUnsupportedPlatform {
				t.Errorf("bsd target should be pre-failed, got %s/%s", target.Status, target.Cause)
			}
		case "build-linux":
			if target.Status != types.TargetStatusPending {
				t.Errorf("linux target should still plan, got %s", target.Status)
			}
		}
	}
}

func TestPlanMissingNativeHostFailsTarget(t *testing.T) {
	r := router.New(types.HostConfig{}, nil)

	targets, err := r.Plan(definition(map[string]types.WorkflowJob{
		"build-macos": {RunsOn: "macos-14"},
	}), nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if targets[0].Status != types.TargetStatusFailed || targets[0].Cause != types.CauseUnsupportedPlatform {
		t.Errorf("target without a configured host should be pre-failed, got %s/%s",
			targets[0].Status, targets[0].Cause)
	}
}

func TestPlanPlatformFilter(t *testing.T) {
	r := router.New(testHosts, nil)

	targets, err := r.Plan(definition(map[string]types.WorkflowJob{
		"build-linux": {RunsOn: "ubuntu-latest"},
		"build-macos": {RunsOn: "macos-14"},
	}), []string{"build-linux"})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(targets) != 1 || targets[0].JobName != "build-linux" {
		t.Fatalf("filter not applied: %d targets", len(targets))
	}
}

func TestPlanFilterExcludingDependencyFails(t *testing.T) {
	r := router.New(testHosts, nil)

	_, err := r.Plan(definition(map[string]types.WorkflowJob{
		"build":   {RunsOn: "ubuntu-latest"},
		"publish": {RunsOn: "ubuntu-latest", Needs: []string{"build"}},
	}), []string{"publish"})
	if !errors.Is(err, router.ErrUnknownDependency) {
		t.Fatalf("selecting a job without its dependency must fail, got %v", err)
	}
}

func TestPlanEmptyWorkflow(t *testing.T) {
	r := router.New(testHosts, nil)

	if _, err := r.Plan(definition(map[string]types.WorkflowJob{}), nil); err == nil {
		t.Fatal("expected error for workflow with no jobs")
	}
}
