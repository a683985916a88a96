// Package queue implements the Priority Scheduler (C3): bounded-concurrency
// admission over the Process Supervisor with priority+FIFO ordering, retry
// with exponential backoff, pause/resume/cancel, and a durable queue.json
// snapshot. The dispatch worker's wake loop (rearmed timer + wake channel +
// ctx.Done) is grounded on background.go's BackgroundAgentManager.runAgentLoop;
// the snapshot persistence is grounded on kanban/state.go's temp+rename write.
package queue

import (
	"time"

	"github.com/processd/processd/process"
)

// Entry is one QueueEntry (SPEC_FULL.md §3.2): a pending or in-flight spawn
// request tracked by a stable logical id across retry attempts.
type Entry struct {
	LogicalID      string      `json:"logicalId"`
	Spec           process.Spec `json:"spec"`
	AdmissionTime  time.Time   `json:"admissionTime"`
	Priority       int         `json:"priority"`
	Attempt        int         `json:"attempt"`
	NextEligibleAt time.Time   `json:"nextEligibleAt"`
	Cancelled      bool        `json:"cancelled"`
	ProcessID      string      `json:"processId,omitempty"`
}

func (e Entry) eligible(now time.Time) bool {
	return !e.Cancelled && !e.NextEligibleAt.After(now)
}

// Config is the scheduler's tunable admission/retry policy.
type Config struct {
	MaxConcurrent  int `json:"maxConcurrent"`
	MaxRetries     int `json:"maxRetries"`
	BackoffBaseMs  int `json:"backoffBaseMs"`
	BackoffMaxMs   int `json:"backoffMaxMs"`
}

// DefaultConfig mirrors the teacher's DefaultConfig() constructor idiom
// (factory.DefaultConfig in the root orchestrator package).
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		MaxRetries:    0,
		BackoffBaseMs: 1000,
		BackoffMaxMs:  30000,
	}
}

// Status is the public snapshot returned by Scheduler.Status.
type Status struct {
	Running int     `json:"running"`
	Queued  int     `json:"queued"`
	Paused  bool    `json:"paused"`
	Entries []Entry `json:"entries,omitempty"`
}

// SubmitOptions configures one Submit call.
type SubmitOptions struct {
	Priority  int
	Immediate bool
}
