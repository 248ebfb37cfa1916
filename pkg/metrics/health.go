package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ComponentState is the health of one component or of the whole process
type ComponentState string

const (
	StateHealthy   ComponentState = "healthy"
	StateDegraded  ComponentState = "degraded"
	StateUnhealthy ComponentState = "unhealthy"
)

// ComponentReport is one component's entry in a HealthReport
type ComponentReport struct {
	State     ComponentState `json:"state"`
	Critical  bool           `json:"critical,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HealthReport is served on /components
type HealthReport struct {
	Status     ComponentState             `json:"status"`
	Components map[string]ComponentReport `json:"components"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Components tracks the last reported state of long-lived parts of the
// process. A failing critical component makes the process unhealthy; any
// other failure degrades it.
type Components struct {
	mu       sync.RWMutex
	critical map[string]bool
	reports  map[string]ComponentReport
	started  time.Time
	version  string
}

// NewComponents creates a registry in which the named components are critical
func NewComponents(critical ...string) *Components {
	c := &Components{
		critical: make(map[string]bool, len(critical)),
		reports:  make(map[string]ComponentReport),
		started:  time.Now(),
	}
	for _, name := range critical {
		c.critical[name] = true
	}
	return c
}

// components is the process registry. The state store and the scheduler are
// critical; Redis and other optional dependencies are not.
var components = NewComponents("state", "scheduler")

// Set records the outcome of a component's latest check. A nil err marks it
// healthy.
func (c *Components) Set(name string, err error) {
	r := ComponentReport{
		State:     StateHealthy,
		Critical:  c.critical[name],
		UpdatedAt: time.Now(),
	}
	if err != nil {
		r.State = StateUnhealthy
		r.Error = err.Error()
	}

	c.mu.Lock()
	c.reports[name] = r
	c.mu.Unlock()
}

// SetVersion sets the version reported with every HealthReport
func (c *Components) SetVersion(version string) {
	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
}

// Report folds component states into the process state
func (c *Components) Report() HealthReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := HealthReport{
		Status:     StateHealthy,
		Components: make(map[string]ComponentReport, len(c.reports)),
		Version:    c.version,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Timestamp:  time.Now(),
	}
	for name, r := range c.reports {
		report.Components[name] = r
		if r.State == StateHealthy {
			continue
		}
		if r.Critical {
			report.Status = StateUnhealthy
		} else if report.Status == StateHealthy {
			report.Status = StateDegraded
		}
	}
	return report
}

// Handler serves Report as JSON, with 503 when the process is unhealthy.
// A degraded process still answers 200.
func (c *Components) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Report()

		code := http.StatusOK
		if report.Status == StateUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// SetComponent records a component's state on the process registry
func SetComponent(name string, err error) {
	components.Set(name, err)
}

// SetVersion sets the version on the process registry
func SetVersion(version string) {
	components.SetVersion(version)
}

// HealthHandler serves the process registry
func HealthHandler() http.HandlerFunc {
	return components.Handler()
}

// LivenessHandler answers 200 for as long as the process can serve HTTP
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(components.started).Round(time.Second).String(),
		})
	}
}
