package engine

import "fmt"

// DanglingDependencyError reports a task that depends on an id the plan does
// not contain. Always fatal for the run.
type DanglingDependencyError struct {
	TaskID    int
	MissingID int
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("engine: task %d depends on unknown task %d", e.TaskID, e.MissingID)
}

// ScheduleIncompleteError reports that the ready queue drained before every
// task ran, which means the graph holds a cycle. Also fatal.
type ScheduleIncompleteError struct {
	Completed int
	Total     int
}

func (e *ScheduleIncompleteError) Error() string {
	return fmt.Sprintf("engine: schedule incomplete, %d of %d tasks completed (dependency cycle?)", e.Completed, e.Total)
}
