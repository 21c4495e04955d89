// Package process provides signal handling and process liveness utilities
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
)

// Manager cancels a context on interrupt and runs registered shutdown
// handlers in reverse registration order, exactly once.
type Manager struct {
	logger   logger.Logger
	handlers []func()
	mu       sync.Mutex
	once     sync.Once
}

// NewManager creates a process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{logger: log}
}

// OnShutdown registers a handler run when the process is interrupted or the
// returned context's parent ends
func (m *Manager) OnShutdown(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Context returns a context cancelled on SIGINT or SIGTERM. The stop
// function releases the signal watcher; shutdown handlers run on either
// path.
func (m *Manager) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			if m.logger != nil {
				m.logger.Warn("Received signal, shutting down", logger.WithField("signal", sig))
			}
			m.shutdown()
			cancel()
		case <-ctx.Done():
			m.shutdown()
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func (m *Manager) shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		handlers := make([]func(), len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()

		for i := len(handlers) - 1; i >= 0; i-- {
			handlers[i]()
		}
	})
}

// Alive reports whether a process with the given PID exists and is
// signalable from this process
func Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
