package gateway

import "fmt"

// Error describes a failed gateway operation.
type Error struct {
	Type    string // "network", "protocol", "not_connected", "rejected", "closed"
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error in %s: %s (%v)", e.Type, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Type, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Common error constructors
func NewNetworkError(op, message string, cause error) *Error {
	return &Error{Type: "network", Op: op, Message: message, Cause: cause}
}

func NewProtocolError(op, message string, cause error) *Error {
	return &Error{Type: "protocol", Op: op, Message: message, Cause: cause}
}

func NewNotConnectedError(op string) *Error {
	return &Error{Type: "not_connected", Op: op, Message: "gateway not connected"}
}

func NewRejectedError(op, message string) *Error {
	return &Error{Type: "rejected", Op: op, Message: message}
}

func NewClosedError(op string) *Error {
	return &Error{Type: "closed", Op: op, Message: "gateway closed"}
}
