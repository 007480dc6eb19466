package orchestrator

import "github.com/uhaseeb85/jenkins-genie/store"

// nextOnSuccess returns the task type the orchestrator enqueues when from
// completes successfully, per the fixed pipeline advancement table. ok is
// false for NOTIFY, the pipeline's terminal stage. Stage handlers never
// enqueue their own successor — only this function decides it.
func nextOnSuccess(from store.TaskType, validationEnabled bool) (store.TaskType, bool) {
	switch from {
	case store.TaskPlan:
		return store.TaskRetrieve, true
	case store.TaskRetrieve:
		return store.TaskCodeFix, true
	case store.TaskCodeFix:
		if validationEnabled {
			return store.TaskValidate, true
		}
		return store.TaskCreatePR, true
	case store.TaskValidate:
		return store.TaskCreatePR, true
	case store.TaskCreatePR:
		return store.TaskNotify, true
	default:
		return "", false
	}
}
