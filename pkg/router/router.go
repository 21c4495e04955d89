// Package router expands a workflow definition into an ordered set of build
// targets with an execution strategy per platform label
package router

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// Sentinel errors for planning
var (
	// ErrCycle indicates the workflow's dependency graph contains a cycle
	ErrCycle = errors.New("workflow dependency graph contains a cycle")

	// ErrUnknownDependency indicates a job needs a job that does not exist
	ErrUnknownDependency = errors.New("workflow job depends on unknown job")

	// ErrUnsupportedPlatform indicates a platform label no rule matches.
	// It fails planning for that target only.
	ErrUnsupportedPlatform = errors.New("unsupported platform label")
)

// labelRule maps a platform-label pattern to an execution strategy. The
// mapping is policy, extensible via configuration, not a per-job branch.
type labelRule struct {
	pattern  *regexp.Regexp
	strategy types.Strategy
	os       string
	arch     string
	host     func(types.HostConfig) string
}

var defaultRules = []labelRule{
	{
		pattern:  regexp.MustCompile(`(?i)^(ubuntu|linux)`),
		strategy: types.StrategyContainerReplay,
		os:       "linux",
		arch:     "amd64",
		host:     func(types.HostConfig) string { return "" },
	},
	{
		pattern:  regexp.MustCompile(`(?i)^(macos|darwin|osx)`),
		strategy: types.StrategyNativeRemote,
		os:       "darwin",
		arch:     "arm64",
		host:     func(h types.HostConfig) string { return h.MacOS },
	},
	{
		pattern:  regexp.MustCompile(`(?i)^windows`),
		strategy: types.StrategyNativeRemote,
		os:       "windows",
		arch:     "amd64",
		host:     func(h types.HostConfig) string { return h.Windows },
	},
}

// Router builds execution plans from workflow definitions
type Router struct {
	hosts  types.HostConfig
	rules  []labelRule
	logger logger.Logger
}

// New creates a router with the default platform-label policy
func New(hosts types.HostConfig, log logger.Logger) *Router {
	return &Router{
		hosts:  hosts,
		rules:  defaultRules,
		logger: log,
	}
}

// Plan expands the workflow into dependency-ordered build targets.
//
// Dependency edges are preserved verbatim into each target's Needs set. A
// cycle in the graph fails the whole plan before any execution. A label no
// rule matches marks only that target failed (unsupported-platform); its
// siblings still plan and run.
func (r *Router) Plan(def *types.WorkflowDefinition, only []string) ([]*types.BuildTarget, error) {
	if len(def.Jobs) == 0 {
		return nil, fmt.Errorf("workflow %s defines no jobs", def.Name)
	}

	selected := make(map[string]bool, len(only))
	for _, name := range only {
		selected[name] = true
	}

	names := make([]string, 0, len(def.Jobs))
	for name := range def.Jobs {
		if len(selected) > 0 && !selected[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	order, err := topoOrder(names, def.Jobs)
	if err != nil {
		return nil, err
	}

	targets := make([]*types.BuildTarget, 0, len(order))
	for _, name := range order {
		job := def.Jobs[name]
		target := &types.BuildTarget{
			JobName:   name,
			Platform:  job.RunsOn,
			Needs:     append([]string(nil), job.Needs...),
			Artifacts: append([]string(nil), job.Artifacts...),
			Commands:  append([]string(nil), job.Commands...),
			Status:    types.TargetStatusPending,
		}

		rule, ok := r.match(job.RunsOn)
		if !ok {
			target.Status = types.TargetStatusFailed
			target.Cause = types.CauseUnsupportedPlatform
			target.Error = fmt.Sprintf("%v: %q", ErrUnsupportedPlatform, job.RunsOn)
			if r.logger != nil {
				r.logger.Warn("No strategy for platform label",
					logger.WithField("job", name),
					logger.WithField("label", job.RunsOn))
			}
			targets = append(targets, target)
			continue
		}

		target.Strategy = rule.strategy
		target.OS = rule.os
		target.Arch = rule.arch
		target.Host = rule.host(r.hosts)
		if target.Strategy == types.StrategyNativeRemote && target.Host == "" {
			target.Status = types.TargetStatusFailed
			target.Cause = types.CauseUnsupportedPlatform
			target.Error = fmt.Sprintf("no %s host configured for label %q", target.OS, job.RunsOn)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (r *Router) match(label string) (labelRule, bool) {
	for _, rule := range r.rules {
		if rule.pattern.MatchString(label) {
			return rule, true
		}
	}
	return labelRule{}, false
}

// topoOrder runs Kahn's algorithm over the selected jobs, with name order
// as the tiebreak so the plan is deterministic for a given workflow
func topoOrder(names []string, jobs map[string]types.WorkflowJob) ([]string, error) {
	included := make(map[string]bool, len(names))
	for _, name := range names {
		included[name] = true
	}

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		indegree[name] += 0
		for _, dep := range jobs[name].Needs {
			if !included[dep] {
				return nil, fmt.Errorf("%w: %s needs %s", ErrUnknownDependency, name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(names) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: involving %v", ErrCycle, stuck)
	}
	return order, nil
}
