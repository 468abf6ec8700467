package constants

// Index-allocation service wire constants
const (
	IndexPathNextID    = "/nextid"
	IndexPathTerminate = "/terminate_n0w"
	IndexParamSession  = "session"
	IndexParamVMID     = "vmid"

	IndexDefaultSession = "default"
	IndexIdentification = "yarrow-index"
	IndexTerminated     = "Terminated"

	IndexDefaultPort = 8400
	IndexDefaultHost = "localhost"

	EnvIndexPort = "YI_PORT"
	EnvIndexHost = "YI_HOST"
)

// Startup script environment variables exported to the workload
const (
	EnvSession = "Y_SESSION"
	EnvScript  = "Y_SCRIPT"
	EnvHost    = "Y_HOST"
)
