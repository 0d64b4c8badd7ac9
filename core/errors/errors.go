package errors

import "errors"

// ErrStreamClosed is returned when emitting into a closed event stream.
var ErrStreamClosed = errors.New("event stream is closed")

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
