package errors

import (
	"errors"
	"fmt"
)

// ComputationKind enumerates the internal failure classes.
type ComputationKind int

const (
	DestinationPath ComputationKind = iota
	Communication
	OperationNotSupported
	IoOperation
	InvalidData
	InvalidArgs
	Process
	Protocol
	MultipleInitCall
	SessionUnavailable
	Native
	Sde
)

// ComputationError is the internal propagation type for process, protocol,
// argument and communication failures. It is converted into a NativeError
// where results are reported to the caller.
type ComputationError struct {
	Kind   ComputationKind
	Detail string
	Native *NativeError
}

// NewComputation builds a ComputationError with a formatted detail.
func NewComputation(kind ComputationKind, format string, args ...any) *ComputationError {
	return &ComputationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// FromNative wraps a NativeError so it can travel as a ComputationError.
func FromNative(err *NativeError) *ComputationError {
	return &ComputationError{Kind: Native, Native: err}
}

func (e *ComputationError) Error() string {
	switch e.Kind {
	case DestinationPath:
		return "Destination path should be defined to stream from MassageProducer"
	case Communication:
		return fmt.Sprintf("Native communication error (%s)", e.Detail)
	case OperationNotSupported:
		return fmt.Sprintf("Operation not supported (%s)", e.Detail)
	case IoOperation:
		return fmt.Sprintf("IO error (%s)", e.Detail)
	case InvalidData:
		return "Invalid data error"
	case InvalidArgs:
		return "Invalid arguments"
	case Process:
		return fmt.Sprintf("Error during processing: (%s)", e.Detail)
	case Protocol:
		return fmt.Sprintf("Wrong usage of API: (%s)", e.Detail)
	case MultipleInitCall:
		return "start method canbe called just once"
	case SessionUnavailable:
		return "Session is destroyed or not inited yet"
	case Native:
		if e.Native == nil {
			return "native error"
		}
		return e.Native.Error()
	case Sde:
		return fmt.Sprintf("Sending data to source error: %s", e.Detail)
	default:
		return e.Detail
	}
}

func (e *ComputationError) Unwrap() error {
	if e.Native == nil {
		return nil
	}
	return e.Native
}

// ToNative converts any error into the boundary shape. NativeErrors pass
// through; everything else becomes an Io error carrying the error text.
func ToNative(err error) *NativeError {
	if err == nil {
		return nil
	}
	var comp *ComputationError
	if errors.As(err, &comp) && comp.Kind == Native && comp.Native != nil {
		return comp.Native
	}
	var native *NativeError
	if comp == nil && errors.As(err, &native) {
		return native
	}
	return NewNative(SeverityError, KindIo, "%s", err.Error())
}
