package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/process"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

func newWatchCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the state directory and print run progress",
		Long: `Follow fallback runs as they execute. Watches the shared state directory
for run record updates and prints target status changes, so a run started
on another machine can be followed from here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(repo)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "only show runs for this repository")

	return cmd
}

func runWatch(repo string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	locks := eng.Locks()
	runsDir := filepath.Join(locks.StateDir(), "runs")

	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(runsDir); err != nil {
		return fmt.Errorf("failed to watch runs directory: %w", err)
	}

	ctx, stop := process.NewManager(nil).Context(context.Background())
	defer stop()

	printInfo(fmt.Sprintf("Watching %s (ctrl-c to stop)", runsDir))

	seen := map[string]map[string]types.TargetStatus{}

	// Show runs already in flight before waiting for events.
	if records, err := locks.ListRunRecords(repo); err == nil {
		for _, record := range records {
			if record.Status == types.RunStatusRunning {
				reportRunChange(record, seen)
			}
		}
	}

	// Write-then-rename produces a burst of events per record update, so
	// changes are debounced per run before re-reading.
	pending := map[string]*time.Timer{}
	changed := make(chan string)

	for {
		select {
		case <-ctx.Done():
			printInfo("Stopped watching")
			return nil

		case runID := <-changed:
			delete(pending, runID)
			record, err := locks.ReadRunRecord(runID)
			if err != nil {
				continue
			}
			if repo != "" && record.Repo != repo {
				continue
			}
			reportRunChange(record, seen)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			runID := strings.TrimSuffix(name, ".json")
			if timer, ok := pending[runID]; ok {
				timer.Stop()
			}
			pending[runID] = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case changed <- runID:
				case <-ctx.Done():
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printError(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

func reportRunChange(record *types.RunRecord, seen map[string]map[string]types.TargetStatus) {
	statuses, ok := seen[record.RunID]
	if !ok {
		statuses = map[string]types.TargetStatus{}
		seen[record.RunID] = statuses
		printInfo(fmt.Sprintf("Run %s: %s %s (%d targets)",
			shortID(record.RunID), record.Repo, record.Version, len(record.Targets)))
	}

	for _, t := range record.Targets {
		previous, known := statuses[t.JobName]
		if known && previous == t.Status {
			continue
		}
		statuses[t.JobName] = t.Status

		line := fmt.Sprintf("  %s [%s] %s", t.JobName, t.Triple(), colorStatus(string(t.Status)))
		if t.Error != "" {
			line += ": " + t.Error
		}
		fmt.Println(line)
	}

	if record.Status != types.RunStatusRunning && !record.CompletedAt.IsZero() {
		duration := record.CompletedAt.Sub(record.StartedAt).Round(time.Second)
		switch record.Status {
		case types.RunStatusSuccess:
			printSuccess(fmt.Sprintf("Run %s finished in %s", shortID(record.RunID), duration))
		case types.RunStatusPartial:
			printWarning(fmt.Sprintf("Run %s finished partially in %s", shortID(record.RunID), duration))
		default:
			printError(fmt.Sprintf("Run %s failed after %s", shortID(record.RunID), duration))
		}
	}
}
