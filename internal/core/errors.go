package core

import (
	"errors"
	"fmt"
)

// transport failure reasons reported to callers
const (
	ReasonUnreachable = "device unreachable"
	ReasonRejected    = "device rejected command"
)

var (
	ErrPrinterBusy   = errors.New("printer busy: timed out waiting for previous job")
	ErrShortWrite    = errors.New("short write to device")
	ErrNoStatusReply = errors.New("device sent no status reply")
)

// ValidationError is a malformed or missing job field. No device is
// contacted when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AssetError is a logo that could not be loaded. It is logged and the job
// continues without the logo.
type AssetError struct {
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("logo %s: %v", e.Path, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// TransportError is a connect, timeout or write failure.
type TransportError struct {
	Reason string
	Stage  Stage
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Reason, e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a command that could not be encoded for the device.
type ProtocolError struct {
	Stage Stage
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cannot encode %s command: %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// FailureDetails extracts the stage and reason of a job error for
// responses and the journal.
func FailureDetails(err error) (Stage, string) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Stage, te.Reason
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Stage, "protocol error"
	}
	if errors.Is(err, ErrPrinterBusy) {
		return "", "printer busy"
	}
	return "", ""
}
