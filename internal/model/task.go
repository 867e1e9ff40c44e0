// Package model holds the wire-level entities shared by every OpenDT
// component: tasks, topologies, windows and simulation results. Types here
// are plain values; validation happens at ingress (see the cmd packages'
// message handlers), not on every internal access.
package model

import (
	"time"

	"github.com/opendt-project/opendt/internal/errs"
)

// Fragment is a slice of a Task's execution profile.
type Fragment struct {
	ID         int64   `json:"id"`
	TaskID     int64   `json:"task_id"`
	DurationMs int64   `json:"duration_ms"`
	CPUCount   int32   `json:"cpu_count"`
	CPUUsage   float64 `json:"cpu_usage"`
}

// Task is immutable once accepted into a TimeWindow.
type Task struct {
	ID              int64      `json:"id"`
	SubmissionTime  time.Time  `json:"submission_time"`
	DurationMs      int64      `json:"duration_ms"`
	CPUCount        int32      `json:"cpu_count"`
	CPUCapacityMHz  float64    `json:"cpu_capacity_mhz"`
	MemCapacityMB   int64      `json:"mem_capacity_mb"`
	Fragments       []Fragment `json:"fragments"`
}

// Validate checks the invariants from spec.md §3. It is only called at
// message-plane ingress; once a Task is inside a TimeWindow it is trusted.
func (t Task) Validate() error {
	switch {
	case t.CPUCount < 1:
		return errInvalid("task.cpu_count must be >= 1")
	case t.CPUCapacityMHz < 0:
		return errInvalid("task.cpu_capacity_mhz must be >= 0")
	case t.MemCapacityMB < 0:
		return errInvalid("task.mem_capacity_mb must be >= 0")
	}
	for _, f := range t.Fragments {
		if f.CPUCount < 1 {
			return errInvalid("fragment.cpu_count must be >= 1")
		}
		if f.DurationMs < 0 {
			return errInvalid("fragment.duration_ms must be >= 0")
		}
		if f.CPUUsage < 0 {
			return errInvalid("fragment.cpu_usage must be >= 0")
		}
	}
	return nil
}

// MessageKind distinguishes the WorkloadMessage tagged union.
type MessageKind string

const (
	KindTask      MessageKind = "task"
	KindHeartbeat MessageKind = "heartbeat"
)

// WorkloadMessage is the payload of the "workload" stream channel (§6.1).
type WorkloadMessage struct {
	Kind      MessageKind `json:"message_type"`
	Timestamp time.Time   `json:"timestamp"`
	Task      *Task       `json:"task,omitempty"`
}

// Validate enforces the tagged-union shape: Task is present iff Kind==task.
func (m WorkloadMessage) Validate() error {
	switch m.Kind {
	case KindTask:
		if m.Task == nil {
			return errInvalid("task message missing task payload")
		}
		return m.Task.Validate()
	case KindHeartbeat:
		if m.Task != nil {
			return errInvalid("heartbeat message must not carry a task")
		}
		return nil
	default:
		return errInvalid("unknown message_type " + string(m.Kind))
	}
}

// PowerSample is the payload of the "power" stream channel (§6.1).
type PowerSample struct {
	Timestamp  time.Time `json:"timestamp"`
	PowerDrawW float64   `json:"power_draw"`
	EnergyJ    float64   `json:"energy_usage"`
}

func (p PowerSample) Validate() error {
	if p.PowerDrawW < 0 {
		return errInvalid("power_draw must be >= 0")
	}
	if p.EnergyJ < 0 {
		return errInvalid("energy_usage must be >= 0")
	}
	return nil
}

func errInvalid(reason string) error {
	return errs.NewEvent(reason)
}
