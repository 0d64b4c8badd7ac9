package errors

import (
	"encoding/json"
	"fmt"
)

// Severity grades a NativeError.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the wire name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "WARNING":
		*s = SeverityWarning
	case "ERROR":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", name)
	}
	return nil
}

// Kind classifies a NativeError.
type Kind int

const (
	KindFileNotFound Kind = iota
	KindUnsupportedFileType
	KindComputationFailed
	KindConfiguration
	KindInterrupted
	KindOperationSearch
	KindNotYetImplemented
	KindChannelError
	KindIo
	KindGrabber
)

var kindNames = map[Kind]string{
	KindFileNotFound:        "FileNotFound",
	KindUnsupportedFileType: "UnsupportedFileType",
	KindComputationFailed:   "ComputationFailed",
	KindConfiguration:       "Configuration",
	KindInterrupted:         "Interrupted",
	KindOperationSearch:     "OperationSearch",
	KindNotYetImplemented:   "NotYetImplemented",
	KindChannelError:        "ChannelError",
	KindIo:                  "Io",
	KindGrabber:             "Grabber",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", name)
}

// NativeError is the serializable error shape surfaced to callers of a session.
// It carries no stack and is safe to send across the event stream.
type NativeError struct {
	Severity Severity `json:"severity"`
	Kind     Kind     `json:"kind"`
	Message  *string  `json:"message"`
}

// NewNative builds a NativeError with a message.
func NewNative(severity Severity, kind Kind, format string, args ...any) *NativeError {
	msg := fmt.Sprintf(format, args...)
	return &NativeError{Severity: severity, Kind: kind, Message: &msg}
}

// Channel builds the error reported when an actor channel is broken.
func Channel(msg string) *NativeError {
	return NewNative(SeverityError, KindChannelError, "%s", msg)
}

func (e *NativeError) Error() string {
	if e.Message == nil {
		return fmt.Sprintf("%s: %s", e.Severity, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Severity, e.Kind, *e.Message)
}

// Text returns the message or an empty string.
func (e *NativeError) Text() string {
	if e.Message == nil {
		return ""
	}
	return *e.Message
}
