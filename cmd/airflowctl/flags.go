package main

// InitFlags holds flags for the init command.
type InitFlags struct {
	ProjectName    string
	AirflowVersion string
	PythonVersion  string
	BuildStart     bool
	Background     bool
	VenvPath       string
}

// BuildFlags holds flags for the build command.
type BuildFlags struct {
	SettingsFile string
	RecreateVenv bool
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Background bool
}

// LogsFlags holds component filter flags for the logs command.
type LogsFlags struct {
	Webserver bool
	Scheduler bool
	Triggerer bool
}
