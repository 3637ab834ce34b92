// Package health provides health reporting and the local HTTP server.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SourceHealth contains the failure backlog of one event source.
type SourceHealth struct {
	Source         string       `json:"source"`
	Status         SystemStatus `json:"status"`
	PendingFailure int          `json:"pending_failures"`
}

// BackendHealth is the result of pinging one backing store.
type BackendHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus             `json:"system_status"`
	Sources      map[string]SourceHealth  `json:"sources"`
	Backends     map[string]BackendHealth `json:"backends"`
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
