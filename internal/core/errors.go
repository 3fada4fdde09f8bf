// services/ess/internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Business errors.
var (
	// Session errors.
	ErrNotConnected   = errors.New("not connected to the station")
	ErrConnectTimeout = errors.New("timed out waiting for station connection")

	// Topic errors.
	ErrUnknownTopicSlot = errors.New("no such category/direction topic slot")

	// Command errors.
	ErrInvalidRateModel = errors.New("rate segment count out of range or rate/details length mismatch")
)

// Business error codes.
const (
	CodeCommandEncodeFailed  = "COMMAND_ENCODE_FAILED"
	CodeCommandPublishFailed = "COMMAND_PUBLISH_FAILED"
)

// BusinessError represents a business logic error with a code.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
