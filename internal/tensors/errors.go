package tensors

import "fmt"

// ParseError reports a document that is not well-formed JSON or whose top
// level is not an object.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed weight JSON at byte %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports a missing, extra, or mistyped top-level field.
type SchemaError struct {
	Key        string
	Reason     string
	Suggestion string
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("field %q: %s", e.Key, e.Reason)
	if e.Key == "" {
		msg = e.Reason
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}
