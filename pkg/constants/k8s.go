package constants

// K8s label keys
const (
	LabelApp       = "app"        // Fleet name
	LabelManagedBy = "managed-by" // Manager identifier
	LabelIndex     = "yarrow/index"

	ManagedByYarrow = "yarrow"
)

// DefaultWorkerContainer names the worker container when no pod template provides one
const DefaultWorkerContainer = "runner"

// LabelRun tags every instance of a fleet run with the run id
const LabelRun = "yarrow-run"
