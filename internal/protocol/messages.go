package protocol

import (
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// Version is the protocol revision spoken by this package
const Version = 1

// Type is a message discriminant
type Type string

const (
	TypeFilesUpdate       Type = "files-update"
	TypeLoadRoute         Type = "load-route"
	TypeErrorOverlaySetup Type = "error-overlay-setup"

	TypeSandboxReady Type = "sandbox-ready"
	TypeBuildResult  Type = "build-result"
	TypeRouteChanged Type = "route-changed"
)

// Message is any protocol message
type Message interface {
	MessageType() Type
}

// ToSandbox is a message the controller sends to the sandbox
type ToSandbox interface {
	Message
	toSandbox()
}

// ToController is a message the sandbox sends to the controller
type ToController interface {
	Message
	toController()
}

// ============================================================================
// Controller -> Sandbox
// ============================================================================

// FilesUpdate replaces the sandbox project and triggers a build
type FilesUpdate struct {
	Files        []vfs.SourceFile `json:"files" validate:"required"`
	Entry        string           `json:"entry,omitempty"`
	InitialRoute string           `json:"initialRoute,omitempty" validate:"omitempty,startswith=/"`
}

// LoadRoute asks the sandbox to navigate
type LoadRoute struct {
	Route string `json:"route" validate:"required,startswith=/"`
}

// Policy selects which failures reach the diagnostic surface
type Policy struct {
	Runtime             bool `json:"runtime"`
	Compilation         bool `json:"compilation"`
	UnhandledRejections bool `json:"unhandledRejections"`
	ContextLines        int  `json:"contextLines" validate:"min=0,max=50"`
}

// DefaultPolicy shows every category with five lines of context
func DefaultPolicy() Policy {
	return Policy{Runtime: true, Compilation: true, UnhandledRejections: true, ContextLines: 5}
}

// ErrorOverlaySetup configures the diagnostic surface
type ErrorOverlaySetup struct {
	Enabled bool   `json:"enabled"`
	Policy  Policy `json:"policy"`
}

func (FilesUpdate) MessageType() Type       { return TypeFilesUpdate }
func (LoadRoute) MessageType() Type         { return TypeLoadRoute }
func (ErrorOverlaySetup) MessageType() Type { return TypeErrorOverlaySetup }

func (FilesUpdate) toSandbox()       {}
func (LoadRoute) toSandbox()         {}
func (ErrorOverlaySetup) toSandbox() {}

// ============================================================================
// Sandbox -> Controller
// ============================================================================

// SandboxReady announces that the sandbox accepts commands
type SandboxReady struct {
	Version int `json:"version" validate:"eq=1"`
}

// BuildResult acknowledges a files-update
type BuildResult struct {
	FileCount int      `json:"fileCount" validate:"min=0"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// RouteChanged reports a new sandbox location
type RouteChanged struct {
	NewRoute string `json:"newRoute" validate:"required,startswith=/"`
}

func (SandboxReady) MessageType() Type { return TypeSandboxReady }
func (BuildResult) MessageType() Type  { return TypeBuildResult }
func (RouteChanged) MessageType() Type { return TypeRouteChanged }

func (SandboxReady) toController() {}
func (BuildResult) toController()  {}
func (RouteChanged) toController() {}
