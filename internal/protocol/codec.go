package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

// ProtocolError describes a message that must be dropped
type ProtocolError struct {
	Reason string
	Type   Type
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol: " + e.Reason
	if e.Type != "" {
		msg += fmt.Sprintf(" (type %q)", e.Type)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is or wraps a *ProtocolError
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

type wire struct {
	Type    Type    `json:"type"`
	Version int     `json:"version"`
	Payload Message `json:"payload"`
}

type header struct {
	Type    Type            `json:"type"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Encode serialises a message with the current protocol version
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, &ProtocolError{Reason: "nil message"}
	}
	data, err := sonic.Marshal(wire{Type: msg.MessageType(), Version: Version, Payload: msg})
	if err != nil {
		return nil, &ProtocolError{Reason: "encode", Type: msg.MessageType(), Err: err}
	}
	return data, nil
}

// DecodeToSandbox parses a controller to sandbox message
func DecodeToSandbox(data []byte) (ToSandbox, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	var (
		msg  ToSandbox
		derr error
	)
	switch h.Type {
	case TypeFilesUpdate:
		msg, derr = decodePayload[FilesUpdate](h)
	case TypeLoadRoute:
		msg, derr = decodePayload[LoadRoute](h)
	case TypeErrorOverlaySetup:
		msg, derr = decodePayload[ErrorOverlaySetup](h)
	default:
		return nil, &ProtocolError{Reason: "unknown message type", Type: h.Type}
	}
	if derr != nil {
		return nil, derr
	}
	return msg, nil
}

// DecodeToController parses a sandbox to controller message
func DecodeToController(data []byte) (ToController, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	var (
		msg  ToController
		derr error
	)
	switch h.Type {
	case TypeSandboxReady:
		msg, derr = decodePayload[SandboxReady](h)
	case TypeBuildResult:
		msg, derr = decodePayload[BuildResult](h)
	case TypeRouteChanged:
		msg, derr = decodePayload[RouteChanged](h)
	default:
		return nil, &ProtocolError{Reason: "unknown message type", Type: h.Type}
	}
	if derr != nil {
		return nil, derr
	}
	return msg, nil
}

func decodeHeader(data []byte) (header, error) {
	var h header
	if err := sonic.Unmarshal(data, &h); err != nil {
		return h, &ProtocolError{Reason: "malformed message", Err: err}
	}
	if h.Type == "" {
		return h, &ProtocolError{Reason: "missing type"}
	}
	if h.Version != Version {
		return h, &ProtocolError{Reason: fmt.Sprintf("unsupported version %d", h.Version), Type: h.Type}
	}
	if len(h.Payload) == 0 || string(h.Payload) == "null" {
		return h, &ProtocolError{Reason: "missing payload", Type: h.Type}
	}
	return h, nil
}

type payload interface {
	FilesUpdate | LoadRoute | ErrorOverlaySetup | SandboxReady | BuildResult | RouteChanged
}

func decodePayload[T payload](h header) (T, error) {
	var v T
	if err := sonic.Unmarshal(h.Payload, &v); err != nil {
		return v, &ProtocolError{Reason: "bad payload shape", Type: h.Type, Err: err}
	}
	if err := validatorInstance().Struct(&v); err != nil {
		return v, &ProtocolError{Reason: "invalid payload", Type: h.Type, Err: err}
	}
	return v, nil
}
