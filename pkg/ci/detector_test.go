package ci_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/ci"
)

// fakeClient serves canned queue times per repository
type fakeClient struct {
	mu     sync.Mutex
	queues map[string]time.Duration
	errs   map[string]error
	calls  map[string]int

	// failures served before succeeding, per repo
	transientFailures map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		queues:            map[string]time.Duration{},
		errs:              map[string]error{},
		calls:             map[string]int{},
		transientFailures: map[string]int{},
	}
}

func (f *fakeClient) QueueTime(ctx context.Context, repo, workflow string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[repo]++

	if n := f.transientFailures[repo]; n > 0 {
		f.transientFailures[repo] = n - 1
		return 0, fmt.Errorf("%w: connection reset", ci.ErrNetwork)
	}
	if err := f.errs[repo]; err != nil {
		return 0, err
	}
	return f.queues[repo], nil
}

func newDetector(client *fakeClient, retries int) *ci.Detector {
	d := ci.NewDetector(client, nil, retries)
	d.SetBackoff(time.Millisecond)
	return d
}

func TestCheckClassifiesByThreshold(t *testing.T) {
	client := newFakeClient()
	client.queues["acme/slow"] = 20 * time.Minute
	client.queues["acme/fast"] = 30 * time.Second
	client.queues["acme/edge"] = 15 * time.Minute

	d := newDetector(client, 0)
	report, err := d.Check(context.Background(), []string{"acme/slow", "acme/fast", "acme/edge"}, "release.yml", 15*time.Minute)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}

	if len(report.Throttled) != 2 {
		t.Fatalf("throttled: %v", report.Throttled)
	}
	// At the threshold counts as throttled.
	if report.Throttled[0].Repo != "acme/edge" || report.Throttled[1].Repo != "acme/slow" {
		t.Errorf("throttled not sorted by repo: %v", report.Throttled)
	}
	if len(report.Healthy) != 1 || report.Healthy[0].Repo != "acme/fast" {
		t.Errorf("healthy: %v", report.Healthy)
	}
}

func TestCheckPerRepoErrorRecorded(t *testing.T) {
	client := newFakeClient()
	client.queues["acme/good"] = time.Minute
	client.errs["acme/bad"] = errors.New("no runs found for acme/bad/release.yml")

	d := newDetector(client, 0)
	report, err := d.Check(context.Background(), []string{"acme/good", "acme/bad"}, "release.yml", 15*time.Minute)
	if err != nil {
		t.Fatalf("a per-repo failure must not fail the batch: %v", err)
	}

	if len(report.Errored) != 1 || report.Errored[0].Repo != "acme/bad" {
		t.Fatalf("errored: %v", report.Errored)
	}
	if report.Errored[0].Error == "" {
		t.Error("errored entry has no message")
	}
	if len(report.Healthy) != 1 {
		t.Errorf("healthy repo lost: %v", report.Healthy)
	}
}

func TestCheckAuthFailureAbortsBatch(t *testing.T) {
	client := newFakeClient()
	client.queues["acme/good"] = time.Minute
	client.errs["acme/private"] = fmt.Errorf("%w: 401 Unauthorized", ci.ErrAuth)

	d := newDetector(client, 0)
	_, err := d.Check(context.Background(), []string{"acme/good", "acme/private"}, "release.yml", 15*time.Minute)
	if !errors.Is(err, ci.ErrAuth) {
		t.Fatalf("expected auth failure to abort the batch, got %v", err)
	}
}

func TestCheckSortedOutput(t *testing.T) {
	client := newFakeClient()
	for _, repo := range []string{"acme/zeta", "acme/alpha", "acme/mid"} {
		client.queues[repo] = time.Hour
	}

	d := newDetector(client, 0)
	report, err := d.Check(context.Background(), []string{"acme/zeta", "acme/alpha", "acme/mid"}, "release.yml", time.Minute)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}

	want := []string{"acme/alpha", "acme/mid", "acme/zeta"}
	for i, status := range report.Throttled {
		if status.Repo != want[i] {
			t.Fatalf("output not sorted: %v", report.Throttled)
		}
	}
}

func TestIsThrottled(t *testing.T) {
	client := newFakeClient()
	client.queues["acme/tool"] = 20 * time.Minute

	d := newDetector(client, 0)
	throttled, queue, err := d.IsThrottled(context.Background(), "acme/tool", "release.yml", 15*time.Minute)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !throttled {
		t.Error("expected throttled")
	}
	if queue != 20*time.Minute {
		t.Errorf("queue %s", queue)
	}
}

func TestRetryOnTransientFailure(t *testing.T) {
	client := newFakeClient()
	client.queues["acme/tool"] = time.Minute
	client.transientFailures["acme/tool"] = 2

	d := newDetector(client, 3)
	throttled, _, err := d.IsThrottled(context.Background(), "acme/tool", "release.yml", 15*time.Minute)
	if err != nil {
		t.Fatalf("expected retries to absorb transient failures: %v", err)
	}
	if throttled {
		t.Error("expected healthy after retry")
	}
	if client.calls["acme/tool"] != 3 {
		t.Errorf("expected 3 calls, got %d", client.calls["acme/tool"])
	}
}

func TestNoRetryOnAuthFailure(t *testing.T) {
	client := newFakeClient()
	client.errs["acme/tool"] = fmt.Errorf("%w: 403 Forbidden", ci.ErrAuth)

	d := newDetector(client, 3)
	_, _, err := d.IsThrottled(context.Background(), "acme/tool", "release.yml", 15*time.Minute)
	if !errors.Is(err, ci.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if client.calls["acme/tool"] != 1 {
		t.Errorf("auth failures must not be retried, got %d calls", client.calls["acme/tool"])
	}
}

func TestRetriesExhausted(t *testing.T) {
	client := newFakeClient()
	client.transientFailures["acme/tool"] = 10

	d := newDetector(client, 2)
	_, _, err := d.IsThrottled(context.Background(), "acme/tool", "release.yml", 15*time.Minute)
	if !errors.Is(err, ci.ErrNetwork) {
		t.Fatalf("expected network error after exhausting retries, got %v", err)
	}
	if client.calls["acme/tool"] != 3 {
		t.Errorf("expected 3 attempts, got %d", client.calls["acme/tool"])
	}
}
