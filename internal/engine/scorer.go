package engine

import "github.com/contabix/dispatch/internal/model"

// Scoring weights. Specialization dominates: a worker is either
// qualified for the obligation type or not, with no partial credit.
const (
	weightSpecialty    = 0.4
	weightLoad         = 0.3
	weightEfficiency   = 0.2
	weightAvailability = 0.1

	// loadCap is the reference ceiling for the load penalty. The penalty
	// saturates at this fixed count rather than the worker's declared
	// capacity, which stays informational.
	loadCap = 10
)

// Score computes the composite suitability of assigning task to worker,
// given the worker's current non-terminal task count and efficiency.
// The result is in [0,1] and is a pure function of its inputs.
func Score(task model.Task, worker model.Worker, load int, efficiency float64) float64 {
	var score float64

	if worker.HasSpecialty(task.Kind) {
		score += weightSpecialty
	}

	loadFactor := 1 - float64(load)/loadCap
	if loadFactor < 0 {
		loadFactor = 0
	}
	score += weightLoad * loadFactor

	score += weightEfficiency * efficiency

	// Inactive workers are excluded upstream by the registry; the term
	// is kept for finer-grained availability states later (e.g. on-leave).
	if worker.Active {
		score += weightAvailability
	}

	return score
}
