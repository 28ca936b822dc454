// Package api holds the wire types shared by the awesync HTTP API and its
// clients.
package api

import (
	"fmt"
	"strings"
)

// Error is returned by request validation. Reason is a stable machine
// readable code.
type Error struct {
	Reason  string        `json:"reason"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

type ErrorDetail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}

	fields := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		fields = append(fields, d.Field+": "+d.Error)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Reason, e.Message, strings.Join(fields, ", "))
}

// Invalid returns an invalid_request Error for details, or nil when there
// are none.
func Invalid(details []ErrorDetail) error {
	if len(details) == 0 {
		return nil
	}
	return Error{
		Reason:  "invalid_request",
		Message: "request was invalid",
		Details: details,
	}
}
