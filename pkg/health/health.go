package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeStorage CheckType = "storage"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between attempts
	Interval time.Duration

	// Timeout is the maximum time to wait for one attempt to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Second,
		Timeout:  30 * time.Second,
		Retries:  3,
	}
}

// Status tracks the health of one checked target
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time

	// LastResult is the result of the last health check
	LastResult Result

	// Healthy indicates if the target is currently considered healthy
	Healthy bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy: true, // Assume healthy until proven otherwise
	}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// Probe runs c until it succeeds once or fails config.Retries times in a
// row, waiting config.Interval between attempts. The returned status is
// healthy only if the last attempt succeeded. Cancelling ctx ends the probe
// as unhealthy.
func Probe(ctx context.Context, c Checker, config Config) *Status {
	if config.Retries <= 0 {
		config.Retries = 1
	}

	status := NewStatus()
	for {
		attemptCtx := ctx
		cancel := func() {}
		if config.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		}
		result := c.Check(attemptCtx)
		cancel()

		status.Update(result, config)
		if result.Healthy || !status.Healthy {
			return status
		}

		select {
		case <-ctx.Done():
			status.Update(Result{
				Healthy:   false,
				Message:   ctx.Err().Error(),
				CheckedAt: time.Now(),
			}, Config{Retries: 1})
			return status
		case <-time.After(config.Interval):
		}
	}
}
