package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GitHubClient fetches workflow queue times from the GitHub Actions API.
// It implements interfaces.CIStatusClient.
type GitHubClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewGitHubClient creates a client against api.github.com
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		token:   token,
		baseURL: "https://api.github.com",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewGitHubClientWithBaseURL creates a client against a custom endpoint
// (GitHub Enterprise, or a test server)
func NewGitHubClientWithBaseURL(token, baseURL string) *GitHubClient {
	c := NewGitHubClient(token)
	c.baseURL = baseURL
	return c
}

type workflowRun struct {
	Status       string    `json:"status"`
	RunStartedAt time.Time `json:"run_started_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type workflowRunsResponse struct {
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

// QueueTime returns how long the most recent run of the workflow sat
// queued before it started. A still-queued run reports its age so far.
func (c *GitHubClient) QueueTime(ctx context.Context, repo, workflow string) (time.Duration, error) {
	url := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/runs?per_page=1", c.baseURL, repo, workflow)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: %s", ErrAuth, resp.Status)
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: %s", ErrNetwork, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("unexpected response from %s: %s", repo, resp.Status)
	}

	var body workflowRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: decoding response: %v", ErrNetwork, err)
	}
	if len(body.WorkflowRuns) == 0 {
		return 0, fmt.Errorf("no runs found for %s/%s", repo, workflow)
	}

	run := body.WorkflowRuns[0]
	if run.Status == "queued" {
		return time.Since(run.CreatedAt), nil
	}
	if run.RunStartedAt.IsZero() || run.RunStartedAt.Before(run.CreatedAt) {
		return 0, nil
	}
	return run.RunStartedAt.Sub(run.CreatedAt), nil
}
