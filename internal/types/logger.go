package types

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// RunMode identifies which entrypoint the process runs as
type RunMode string

const (
	ModeLocal  RunMode = "local"
	ModeAPI    RunMode = "api"
	ModeWorker RunMode = "temporal_worker"
	ModeCLI    RunMode = "cli"
)
