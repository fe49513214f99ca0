package controller

// Event is something the sandbox reported to the host
type Event interface {
	EventName() string
}

// BuildSucceeded reports an installed build
type BuildSucceeded struct {
	FileCount int      `json:"fileCount"`
	Warnings  []string `json:"warnings,omitempty"`
}

// BuildFailed reports a build that could not be resolved or compiled
type BuildFailed struct {
	FileCount int    `json:"fileCount"`
	Message   string `json:"message"`
}

// SandboxReady reports that the sandbox accepts commands
type SandboxReady struct{}

// LocationChanged reports a navigation inside the sandbox
type LocationChanged struct {
	Route string `json:"route"`
}

func (BuildSucceeded) EventName() string  { return "build-succeeded" }
func (BuildFailed) EventName() string     { return "build-failed" }
func (SandboxReady) EventName() string    { return "sandbox-ready" }
func (LocationChanged) EventName() string { return "location-changed" }
