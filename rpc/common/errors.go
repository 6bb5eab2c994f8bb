package common

import "errors"

var (
	// ErrNotConnected is returned when a message should be sent to a peer that is not connected
	ErrNotConnected = errors.New("Native host not connected")
	// ErrDuplicateID is returned when a request id is already pending
	ErrDuplicateID = errors.New("duplicate request id")
	// ErrTimeout is returned by clients when no response arrived in time
	ErrTimeout = errors.New("request timed out")
	// ErrClosed is returned when a closed connection or link is used
	ErrClosed = errors.New("connection closed")
)
