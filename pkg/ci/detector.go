// Package ci classifies repositories as healthy or throttled based on the
// hosted CI provider's queue times
package ci

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// Sentinel errors the status client is expected to wrap
var (
	// ErrAuth indicates the provider rejected our credentials. Unlike a
	// transient fetch failure this poisons the whole batch.
	ErrAuth = errors.New("ci provider authentication failed")

	// ErrNetwork indicates a transient fetch failure, retried with backoff
	ErrNetwork = errors.New("ci provider fetch failed")
)

const checkConcurrency = 8

// Detector runs throttle checks against the status client
type Detector struct {
	client  interfaces.CIStatusClient
	logger  logger.Logger
	retries int
	backoff time.Duration
}

// NewDetector creates a throttle detector
func NewDetector(client interfaces.CIStatusClient, log logger.Logger, retries int) *Detector {
	if retries < 0 {
		retries = 0
	}
	return &Detector{
		client:  client,
		logger:  log,
		retries: retries,
		backoff: time.Second,
	}
}

// SetBackoff overrides the base delay between retry attempts
func (d *Detector) SetBackoff(backoff time.Duration) {
	d.backoff = backoff
}

// Check fetches queue times for all repositories concurrently and
// classifies each against the threshold. A per-repo fetch failure is
// recorded against that repo only; an authentication failure aborts the
// batch. Output slices are sorted by repository name so the same input set
// always produces the same JSON.
func (d *Detector) Check(ctx context.Context, repos []string, workflow string, threshold time.Duration) (*types.ThrottleReport, error) {
	report := &types.ThrottleReport{
		Throttled: []types.RepoStatus{},
		Healthy:   []types.RepoStatus{},
	}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			queue, err := d.fetchWithRetry(ctx, repo, workflow)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrAuth):
				// Escalate: an unauthenticated client must never report
				// repositories as healthy.
				return fmt.Errorf("queue-time fetch for %s: %w", repo, err)
			case err != nil:
				if d.logger != nil {
					d.logger.Warn("Queue-time fetch failed",
						logger.WithField("repo", repo),
						logger.WithField("error", err))
				}
				report.Errored = append(report.Errored, types.RepoStatus{Repo: repo, Error: err.Error()})
			case queue >= threshold:
				report.Throttled = append(report.Throttled, types.RepoStatus{Repo: repo, QueueSecs: int64(queue.Seconds())})
			default:
				report.Healthy = append(report.Healthy, types.RepoStatus{Repo: repo, QueueSecs: int64(queue.Seconds())})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, list := range [][]types.RepoStatus{report.Throttled, report.Healthy, report.Errored} {
		sort.Slice(list, func(i, j int) bool { return list[i].Repo < list[j].Repo })
	}
	return report, nil
}

// IsThrottled checks a single repository
func (d *Detector) IsThrottled(ctx context.Context, repo, workflow string, threshold time.Duration) (bool, time.Duration, error) {
	queue, err := d.fetchWithRetry(ctx, repo, workflow)
	if err != nil {
		return false, 0, err
	}
	return queue >= threshold, queue, nil
}

// fetchWithRetry retries transient failures at the collaborator-call
// boundary only. Auth failures and context cancellation are returned
// immediately.
func (d *Detector) fetchWithRetry(ctx context.Context, repo, workflow string) (time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			wait := d.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(wait):
			}
		}

		queue, err := d.client.QueueTime(ctx, repo, workflow)
		if err == nil {
			return queue, nil
		}
		lastErr = err
		if errors.Is(err, ErrAuth) || ctx.Err() != nil {
			return 0, err
		}
		if !errors.Is(err, ErrNetwork) {
			return 0, err
		}
	}
	return 0, lastErr
}
