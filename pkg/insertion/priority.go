package insertion

import "time"

// PriorityKind is the closed enum of recognised task priority functions
// (spec §4.8, §9 "Dynamic dispatch over priority functions"). We expose a
// small closed set plus a single scoring function rather than an open
// Priority interface, matching the design note's explicit preference for
// a closed dispatch over these eight functions.
type PriorityKind int

const (
	// NrPointsWeightedByTaskAge is the default.
	NrPointsWeightedByTaskAge PriorityKind = iota
	NrPoints
	Lod
	OldestPoint
	NewestPoint
	TaskAge
	NrPointsWeightedByOldestPoint
	NrPointsWeightedByNegNewestPoint
)

// taskSnapshot is the set of facts a priority function scores against,
// matching spec §9's score(inbox_size, task_age, min_age_of_pending_point,
// max_age_of_pending_point, lod) signature.
type taskSnapshot struct {
	inboxSize       int
	taskAge         time.Duration
	minPendingAge   time.Duration // age of the oldest pending point
	maxPendingAge   time.Duration // age of the newest pending point
	lod             uint8
}

// score computes a task's priority under kind; larger is more urgent. k
// weights the age term of the *WeightedBy* variants.
func score(kind PriorityKind, s taskSnapshot, k float64) float64 {
	switch kind {
	case NrPoints:
		return float64(s.inboxSize)
	case Lod:
		// Lowest LOD first: invert so a smaller lod yields a larger score.
		return -float64(s.lod)
	case OldestPoint:
		return s.minPendingAge.Seconds()
	case NewestPoint:
		// Prefer the task whose newest pending point is latest, i.e. has
		// the smallest age: decreasing in maxPendingAge, matching the
		// weighted variant below.
		return -s.maxPendingAge.Seconds()
	case TaskAge:
		return s.taskAge.Seconds()
	case NrPointsWeightedByTaskAge:
		return float64(s.inboxSize) * (1 + s.taskAge.Seconds()*k)
	case NrPointsWeightedByOldestPoint:
		return float64(s.inboxSize) * (1 + s.minPendingAge.Seconds()*k)
	case NrPointsWeightedByNegNewestPoint:
		return float64(s.inboxSize) * (1 + (-s.maxPendingAge.Seconds())*k)
	default:
		return float64(s.inboxSize)
	}
}
