// Package notifier provides desktop notifications for fallback runs
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// RunNotifier sends desktop notifications at the two points an operator
// cares about: when a fallback run starts because CI is throttled, and
// when the run finishes.
type RunNotifier struct {
	enabled      bool
	failureSound string
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	FailureSound string
}

// New creates a run notifier
func New(config Config, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled:      config.Enabled,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// NotifyThrottled announces that hosted CI is throttled and a local
// fallback run is starting
func (n *RunNotifier) NotifyThrottled(repo string, queueTime time.Duration) {
	if !n.enabled {
		return
	}

	title := "🛟 Self-Releaser"
	message := fmt.Sprintf("%s: CI queued %s, starting local fallback", repo, formatDuration(queueTime))
	n.send(title, message, false)
}

// NotifyRunComplete announces the terminal status of a fallback run
func (n *RunNotifier) NotifyRunComplete(repo string, status types.RunStatus, duration time.Duration) {
	if !n.enabled {
		return
	}

	var title string
	failed := false
	switch status {
	case types.RunStatusSuccess:
		title = "✅ Release Complete"
	case types.RunStatusPartial:
		title = "⚠️ Release Partial"
		failed = true
	default:
		title = "❌ Release Failed"
		failed = true
	}
	message := fmt.Sprintf("%s finished in %s", repo, formatDuration(duration))
	n.send(title, message, failed)
}

func (n *RunNotifier) send(title, message string, failed bool) {
	if err := beeep.Notify(title, message, ""); err != nil && n.logger != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
	if failed && n.failureSound != "" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil && n.logger != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
