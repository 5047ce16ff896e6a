package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status represents the health status of a component.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// DefaultCheckTimeout bounds a single checker run.
const DefaultCheckTimeout = 5 * time.Second

// Check represents a health check result.
type Check struct {
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Critical    bool                   `json:"critical"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"-"`
	DurationMS  float64                `json:"duration_ms"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Checker is the interface that health checkers must implement.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// DetailReporter is implemented by checkers that attach extra details to
// their result.
type DetailReporter interface {
	Details(ctx context.Context) map[string]interface{}
}

type registration struct {
	checker  Checker
	critical bool
}

// Manager runs the registered checks and keeps the latest results.
type Manager struct {
	mu       sync.RWMutex
	checkers []registration
	results  map[string]*Check
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewManager creates a new health check manager.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		results: make(map[string]*Check),
		timeout: DefaultCheckTimeout,
		logger:  logger,
	}
}

// Register adds a checker whose failure takes the service down.
func (m *Manager) Register(checker Checker) {
	m.register(checker, true)
}

// RegisterOptional adds a checker whose failure only degrades the service,
// for dependencies such as the still cache that the service can run
// without.
func (m *Manager) RegisterOptional(checker Checker) {
	m.register(checker, false)
}

func (m *Manager) register(checker Checker, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, registration{checker: checker, critical: critical})
	m.logger.WithFields(logrus.Fields{
		"checker":  checker.Name(),
		"critical": critical,
	}).Debug("Registered health checker")
}

// RunChecks executes all registered checks concurrently and records their
// results.
func (m *Manager) RunChecks(ctx context.Context) map[string]*Check {
	m.mu.RLock()
	regs := make([]registration, len(m.checkers))
	copy(regs, m.checkers)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	checks := make(chan *Check, len(regs))
	for _, reg := range regs {
		wg.Add(1)
		go func(reg registration) {
			defer wg.Done()
			checks <- m.run(ctx, reg)
		}(reg)
	}
	wg.Wait()
	close(checks)

	results := make(map[string]*Check, len(regs))
	m.mu.Lock()
	for check := range checks {
		results[check.Name] = check
		m.results[check.Name] = check
	}
	m.mu.Unlock()

	return results
}

func (m *Manager) run(ctx context.Context, reg registration) *Check {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := reg.checker.Check(checkCtx)
	duration := time.Since(start)

	check := &Check{
		Name:        reg.checker.Name(),
		Status:      StatusOK,
		Critical:    reg.critical,
		LastChecked: time.Now(),
		Duration:    duration,
		DurationMS:  float64(duration.Milliseconds()),
	}
	if reporter, ok := reg.checker.(DetailReporter); ok {
		check.Details = reporter.Details(checkCtx)
	}

	log := m.logger.WithFields(logrus.Fields{
		"checker":  check.Name,
		"duration": duration,
	})
	if err == nil {
		log.Debug("Health check passed")
		return check
	}

	check.Status = StatusDown
	if !reg.critical {
		check.Status = StatusDegraded
	}
	check.Message = err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		check.Message = "Health check timed out"
	}
	log.WithError(err).Error("Health check failed")

	return check
}

// GetResults returns a copy of the latest results.
func (m *Manager) GetResults() map[string]*Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]*Check, len(m.results))
	for name, check := range m.results {
		c := *check
		results[name] = &c
	}
	return results
}

// GetOverallStatus folds the latest results into one status. No results
// yet counts as down.
func (m *Manager) GetOverallStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.results) == 0 {
		return StatusDown
	}

	status := StatusOK
	for _, check := range m.results {
		switch check.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// StartPeriodicChecks runs the checks now and then on every interval until
// ctx is cancelled.
func (m *Manager) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			m.RunChecks(ctx)
		case <-ctx.Done():
			m.logger.Info("Stopping periodic health checks")
			return
		}
	}
}
