// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Thresholds above which a report degrades or turns critical.
const (
	DegradedLag     = 10
	CriticalLag     = 100
	CriticalDead    = 50
	CriticalBacklog = 10000
)

// Report contains the health of one ingestion process.
type Report struct {
	Status SystemStatus `json:"status"`
	Mode   string       `json:"mode"`
	State  string       `json:"state,omitempty"`

	// Live only.
	Scope       string `json:"scope,omitempty"`
	CursorBlock uint64 `json:"cursor_block,omitempty"`
	HeadBlock   uint64 `json:"head_block,omitempty"`
	BlockLag    uint64 `json:"block_lag"`

	QueueDepth  int64 `json:"queue_depth"`
	DeadLetters int64 `json:"dead_letters"`

	Errors []string `json:"errors,omitempty"`
}

func (r *Report) evaluate() {
	switch {
	case r.BlockLag > CriticalLag || r.DeadLetters > CriticalDead || r.QueueDepth > CriticalBacklog:
		r.Status = StatusCritical
	case r.BlockLag > DegradedLag || r.DeadLetters > 0 || len(r.Errors) > 0:
		r.Status = StatusDegraded
	default:
		r.Status = StatusHealthy
	}
}
