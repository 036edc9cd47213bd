// Package model defines the task and worker entities shared by the
// stores, the assignment engine, and the CLI.
package model

import (
	"fmt"
	"time"
)

// State is a stored task lifecycle state.
//
// StateOverdue is never written to the store: overdue is a read-side
// projection computed from the due date (see IsOverdue). It exists as a
// constant so reports and the CLI can label tasks consistently.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateOverdue    State = "overdue"
)

// ValidStoredState reports whether s may appear in the task store.
func ValidStoredState(s State) bool {
	switch s {
	case StatePending, StateInProgress, StateCompleted:
		return true
	}
	return false
}

// CanTransition reports whether a stored state change is legal.
// pending -> in_progress -> completed; completed is immutable.
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateInProgress
	case StateInProgress:
		return to == StateCompleted
	}
	return false
}

// Priority orders tasks by urgency for display and reporting.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the priority's position in the low..critical order.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return -1
}

// ParsePriority validates a priority string.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if p.Rank() < 0 {
		return "", fmt.Errorf("invalid priority %q", s)
	}
	return p, nil
}

// Kind identifies an obligation type. The set is open: these constants
// cover the recurring obligations the generator is commonly invoked
// with, but any non-empty string is a valid kind.
type Kind string

const (
	KindPeriodicFiling Kind = "periodic-filing"
	KindMonthlyClose   Kind = "monthly-close"
	KindPayrollFiling  Kind = "payroll-filing"
	KindAnnualReturn   Kind = "annual-return"
)

// Task is a unit of recurring or one-off work tied to a tenant and a
// due date.
type Task struct {
	ID                string
	TenantID          string
	Kind              Kind
	Title             string
	Description       string
	Priority          Priority
	State             State
	AssignedWorkerID  string // empty means unassigned
	CreatedAt         time.Time
	DueAt             time.Time
	CompletedAt       *time.Time // set exactly once, on completion
	EstimatedHours    float64
	RequiredDocuments []string
	// Period is the optional generation period key (e.g. "2026-09").
	// Tasks created with the same (tenant, kind, period) are deduplicated.
	Period string
	// Version is the optimistic-concurrency counter bumped on every update.
	Version int64
}

// Terminal reports whether the stored state admits no further transition.
func (t Task) Terminal() bool {
	return t.State == StateCompleted
}

// IsOverdue reports the derived overdue classification: past due and not
// completed. It never consults the stored state beyond the completed check,
// so a pending or in_progress task past its due date reads as overdue
// without any write to the store.
func IsOverdue(t Task, now time.Time) bool {
	return now.After(t.DueAt) && t.State != StateCompleted
}

// EffectiveState is the state a reader should display at the given time:
// the stored state, or StateOverdue when the derived classification applies.
func EffectiveState(t Task, now time.Time) State {
	if IsOverdue(t, now) {
		return StateOverdue
	}
	return t.State
}

// Worker is a staff member eligible for task assignment.
type Worker struct {
	ID          string
	Name        string
	Active      bool
	Specialties []Kind
	// Capacity is the declared maximum of concurrent non-terminal tasks.
	// It is informational: the load factor in scoring saturates against a
	// fixed ceiling instead (see engine.Score).
	Capacity  int
	CreatedAt time.Time
}

// HasSpecialty reports whether the worker is qualified for the kind.
func (w Worker) HasSpecialty(k Kind) bool {
	for _, s := range w.Specialties {
		if s == k {
			return true
		}
	}
	return false
}
