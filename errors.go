package warc

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleRecord is returned when the payload of a record is accessed after
	// the Reader that produced it has moved on to the next record.
	ErrStaleRecord = errors.New("record payload is no longer valid: reader has advanced")

	// ErrLengthMismatch is returned when a record's declared length differs from
	// the number of payload bytes actually available.
	ErrLengthMismatch = errors.New("declared length does not match payload size")

	// ErrUnreadOverflow is returned when more bytes are pushed back into a
	// BoundedReader than were consumed from it.
	ErrUnreadOverflow = errors.New("cannot unread more bytes than were consumed")
)

// FormatError reports malformed input: a bad version line, a bad header line,
// a wrong ARC field count, an unsupported version or a broken record trailer.
// It is fatal to the read that produced it.
type FormatError struct {
	// Offset is the position in the (decompressed) stream where the problem was
	// detected, or -1 when unknown.
	Offset int64
	Msg    string
	Err    error
}

func newFormatError(offset int64, msg string) *FormatError {
	return &FormatError{Offset: offset, Msg: msg}
}

func newFormatErrorf(offset int64, format string, args ...any) *FormatError {
	return &FormatError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func wrapFormatError(offset int64, msg string, err error) *FormatError {
	return &FormatError{Offset: offset, Msg: msg, Err: err}
}

func (e *FormatError) Error() string {
	s := "warc: " + e.Msg
	if e.Offset >= 0 {
		s = fmt.Sprintf("%s at offset %d", s, e.Offset)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid combination of caller settings, such
// as an unknown version, or a requested version that disagrees with the one
// detected in the stream.
type ConfigurationError struct {
	Msg string
}

func newConfigurationErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return "warc: configuration: " + e.Msg
}

// IsFormatError reports whether err (or anything it wraps) is a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsConfigurationError reports whether err (or anything it wraps) is a
// *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
