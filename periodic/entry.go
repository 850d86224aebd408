package periodic

import (
	"time"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/id"
)

// Entry represents a registered periodic schedule.
type Entry struct {
	kiln.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	TaskName    string     `json:"task_name"`
	Queue       string     `json:"queue,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	Enabled     bool       `json:"enabled"`
}
