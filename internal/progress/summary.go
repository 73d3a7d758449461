package progress

import (
	"learnplan/internal/assignment"
	"learnplan/internal/plan"
)

// Summarize derives the assignment summary from the authoritative step list.
// Progress is round-half-up of the completed percentage; an empty plan is 0.
func Summarize(steps []plan.Step) assignment.Summary {
	completed := 0
	for _, s := range steps {
		if s.Completed {
			completed++
		}
	}
	total := len(steps)
	return assignment.Summary{
		Progress:       Percent(completed, total),
		CompletedSteps: completed,
		TotalSteps:     total,
	}
}

func Percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*completed + total) / (2 * total)
}
