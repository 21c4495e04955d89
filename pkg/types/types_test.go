package types_test

import (
	"testing"
	"time"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

func targetsWith(statuses ...types.TargetStatus) []*types.BuildTarget {
	targets := make([]*types.BuildTarget, len(statuses))
	for i, s := range statuses {
		targets[i] = &types.BuildTarget{JobName: "job", Status: s}
	}
	return targets
}

func TestDeriveRunStatus(t *testing.T) {
	tests := []struct {
		name    string
		targets []*types.BuildTarget
		want    types.RunStatus
	}{
		{"no targets", nil, types.RunStatusError},
		{"all success", targetsWith(types.TargetStatusSuccess, types.TargetStatusSuccess), types.RunStatusSuccess},
		{"one failure", targetsWith(types.TargetStatusSuccess, types.TargetStatusFailed), types.RunStatusPartial},
		{"one skipped", targetsWith(types.TargetStatusSuccess, types.TargetStatusSkipped), types.RunStatusPartial},
		{"all failed", targetsWith(types.TargetStatusFailed, types.TargetStatusFailed), types.RunStatusPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := types.DeriveRunStatus(tt.targets); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTargetStatusTerminal(t *testing.T) {
	terminal := []types.TargetStatus{types.TargetStatusSuccess, types.TargetStatusFailed, types.TargetStatusSkipped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []types.TargetStatus{types.TargetStatusPending, types.TargetStatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTriple(t *testing.T) {
	target := &types.BuildTarget{OS: "darwin", Arch: "arm64"}
	if target.Triple() != "darwin/arm64" {
		t.Errorf("triple: %s", target.Triple())
	}
}

func TestConfigDefaults(t *testing.T) {
	var exec types.ExecutionConfig
	if exec.TargetTimeout() != 30*time.Minute {
		t.Errorf("target timeout default: %s", exec.TargetTimeout())
	}
	if exec.RunTimeout() != 2*time.Hour {
		t.Errorf("run timeout default: %s", exec.RunTimeout())
	}

	var lock types.LockConfig
	if lock.HeartbeatTimeout() != 5*time.Minute {
		t.Errorf("heartbeat timeout default: %s", lock.HeartbeatTimeout())
	}
	if lock.HeartbeatInterval() != 10*time.Second {
		t.Errorf("heartbeat interval default: %s", lock.HeartbeatInterval())
	}

	var throttle types.ThrottleConfig
	if throttle.RetryCount() != 3 {
		t.Errorf("retry count default: %d", throttle.RetryCount())
	}
	two := 2
	throttle.Retries = &two
	if throttle.RetryCount() != 2 {
		t.Errorf("retry count override: %d", throttle.RetryCount())
	}
}
