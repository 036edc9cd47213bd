// Package engine implements the assignment decision logic: efficiency
// derivation, composite suitability scoring, and the batch scheduler
// that commits assignments.
package engine

import (
	"time"

	"github.com/contabix/dispatch/internal/model"
)

// Efficiency derives a worker's historical performance score from its
// task history: completed / (completed + overdue) over tasks that reached
// a terminal outcome. Overdue is the derived classification, so an
// uncompleted task past its due date counts against the worker even
// though the store never records an overdue state.
//
// A worker with no terminal history scores the neutral midpoint 0.5 so
// new workers are not permanently penalized. The result is always in [0,1].
func Efficiency(history []model.Task, now time.Time) float64 {
	var completed, overdue int
	for _, t := range history {
		switch {
		case t.State == model.StateCompleted:
			completed++
		case model.IsOverdue(t, now):
			overdue++
		}
	}

	terminal := completed + overdue
	if terminal == 0 {
		return 0.5
	}
	return float64(completed) / float64(terminal)
}
