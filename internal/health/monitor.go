package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/lambdakit/internal/metrics"
)

// FailureCounter counts pending ledger entries of a source.
type FailureCounter interface {
	Count(ctx context.Context, source string) (int, error)
}

// Pinger is a backing store that can be probed.
type Pinger func(ctx context.Context) error

// Thresholds for the failure backlog of a source.
type Thresholds struct {
	Degraded int
	Critical int
}

// DefaultThresholds flags any backlog as degraded.
var DefaultThresholds = Thresholds{Degraded: 1, Critical: 50}

// Monitor aggregates health status from the ledger and backing stores.
type Monitor struct {
	sources    []string
	ledger     FailureCounter
	backends   map[string]Pinger
	thresholds Thresholds
	cacheFor   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. ledger may be nil.
func NewMonitor(sources []string, ledger FailureCounter, backends map[string]Pinger) *Monitor {
	return &Monitor{
		sources:    sources,
		ledger:     ledger,
		backends:   backends,
		thresholds: DefaultThresholds,
		cacheFor:   10 * time.Second,
	}
}

// CheckHealth reports backlog per source and backend reachability.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the stores
	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Sources:      make(map[string]SourceHealth),
		Backends:     make(map[string]BackendHealth),
	}

	for name, ping := range m.backends {
		bh := BackendHealth{Name: name, Status: StatusHealthy}
		if err := ping(ctx); err != nil {
			bh.Status = StatusCritical
			bh.Error = err.Error()
		}
		report.Backends[name] = bh
		report.SystemStatus = worst(report.SystemStatus, bh.Status)
	}

	if m.ledger != nil {
		for _, source := range m.sources {
			sh := SourceHealth{Source: source, Status: StatusHealthy}
			count, err := m.ledger.Count(ctx, source)
			if err != nil {
				sh.Status = StatusDegraded
			} else {
				sh.PendingFailure = count
				metrics.LedgerPending.WithLabelValues(source).Set(float64(count))
			}

			switch {
			case m.thresholds.Critical > 0 && sh.PendingFailure >= m.thresholds.Critical:
				sh.Status = StatusCritical
			case m.thresholds.Degraded > 0 && sh.PendingFailure >= m.thresholds.Degraded:
				sh.Status = StatusDegraded
			}

			report.Sources[source] = sh
			report.SystemStatus = worst(report.SystemStatus, sh.Status)
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
