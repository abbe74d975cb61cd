package engine

import (
	"context"
	"sort"
)

// Run executes the whole plan in dependency order. Ready tasks are processed
// in ascending id order so identical plans always run identically. The
// returned Report carries partial progress even when the run halts early;
// the error is reserved for structural defects in the graph.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{Total: len(e.Plan.Tasks)}

	dependents := make(map[int][]int, len(e.Plan.Tasks))
	inDegree := make(map[int]int, len(e.Plan.Tasks))
	for _, id := range e.Plan.IDs() {
		t := e.Plan.Tasks[id]
		inDegree[id] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			if _, ok := e.Plan.Tasks[dep]; !ok {
				return report, &DanglingDependencyError{TaskID: id, MissingID: dep}
			}
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []int
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	for len(ready) > 0 {
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]

		t := e.Plan.Tasks[id]
		e.Log.Info("starting task", "task", id, "title", t.Title, "completed", len(report.Completed), "total", report.Total)

		res, err := e.runTask(ctx, t, report.Completed)
		if err != nil {
			return report, err
		}
		switch res.outcome {
		case OutcomeSuccess:
			report.Completed = append(report.Completed, id)
			if res.mainExecutable != "" {
				report.MainExecutable = res.mainExecutable
			}
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					ready = append(ready, dep)
				}
			}
		default:
			// A skip halts the run the same way an abort does: dependents
			// of the skipped task can never become ready, and independent
			// branches are not continued either.
			e.Log.Warn("run halted", "task", id, "outcome", res.outcome.String())
			report.Halted = true
			report.HaltedBy = res.outcome
			return report, nil
		}
	}

	if len(report.Completed) != report.Total {
		return report, &ScheduleIncompleteError{Completed: len(report.Completed), Total: report.Total}
	}
	e.Log.Info("all tasks completed", "total", report.Total)
	return report, nil
}
