package constants

// RunStatus is the canonical status for rows in extraction_run.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// RunStatuses lists every valid RunStatus.
var RunStatuses = []string{
	string(RunStatusRunning),
	string(RunStatusSucceeded),
	string(RunStatusFailed),
}

// Stage names which part of the pipeline produced an error.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageSchema    Stage = "schema"
	StageLoad      Stage = "load"
	StageRender    Stage = "render"
	StageInvoke    Stage = "invoke"
	StageReconcile Stage = "reconcile"
	StagePersist   Stage = "persist"
)
