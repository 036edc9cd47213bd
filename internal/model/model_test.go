package model

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"pending to in_progress", StatePending, StateInProgress, true},
		{"in_progress to completed", StateInProgress, StateCompleted, true},
		{"pending to completed skips assignment", StatePending, StateCompleted, false},
		{"completed is immutable", StateCompleted, StateInProgress, false},
		{"completed to pending", StateCompleted, StatePending, false},
		{"in_progress back to pending", StateInProgress, StatePending, false},
		{"overdue is never a stored target", StatePending, StateOverdue, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidStoredState(t *testing.T) {
	for _, s := range []State{StatePending, StateInProgress, StateCompleted} {
		if !ValidStoredState(s) {
			t.Errorf("ValidStoredState(%s) = false, want true", s)
		}
	}
	if ValidStoredState(StateOverdue) {
		t.Error("overdue must not be a storable state")
	}
	if ValidStoredState("cancelled") {
		t.Error("unknown state must not be storable")
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		task Task
		want bool
	}{
		{
			name: "pending past due",
			task: Task{State: StatePending, DueAt: now.Add(-time.Hour)},
			want: true,
		},
		{
			name: "in_progress past due",
			task: Task{State: StateInProgress, DueAt: now.Add(-24 * time.Hour)},
			want: true,
		},
		{
			name: "pending before due",
			task: Task{State: StatePending, DueAt: now.Add(time.Hour)},
			want: false,
		},
		{
			name: "completed past due is never overdue",
			task: Task{State: StateCompleted, DueAt: now.Add(-240 * time.Hour)},
			want: false,
		},
		{
			name: "due exactly now is not yet overdue",
			task: Task{State: StatePending, DueAt: now},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOverdue(tt.task, now); got != tt.want {
				t.Errorf("IsOverdue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveState(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	task := Task{State: StateInProgress, DueAt: now.Add(-time.Hour)}
	if got := EffectiveState(task, now); got != StateOverdue {
		t.Errorf("EffectiveState() = %s, want overdue", got)
	}

	task.DueAt = now.Add(time.Hour)
	if got := EffectiveState(task, now); got != StateInProgress {
		t.Errorf("EffectiveState() = %s, want in_progress", got)
	}
}

func TestParsePriority(t *testing.T) {
	for _, s := range []string{"low", "medium", "high", "critical"} {
		if _, err := ParsePriority(s); err != nil {
			t.Errorf("ParsePriority(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("ParsePriority(urgent) expected error")
	}
}

func TestPriorityRankOrder(t *testing.T) {
	order := []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("priority order broken: %s >= %s", order[i-1], order[i])
		}
	}
}

func TestHasSpecialty(t *testing.T) {
	w := Worker{Specialties: []Kind{KindMonthlyClose, KindPayrollFiling}}
	if !w.HasSpecialty(KindMonthlyClose) {
		t.Error("expected specialty match for monthly-close")
	}
	if w.HasSpecialty(KindAnnualReturn) {
		t.Error("unexpected specialty match for annual-return")
	}
}
