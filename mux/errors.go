package mux

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed channel or multiplexer.
	ErrClosed = errors.New("mux: closed")

	// ErrTimeout is returned when a channel did not open within its deadline.
	ErrTimeout = errors.New("mux: timed out waiting for channel to open")

	// ErrInterrupted is returned when a blocking wait was cancelled by its
	// context. The returned error also matches the context error.
	ErrInterrupted = errors.New("mux: wait interrupted")

	// ErrUnknownChannel is returned by Receive for payload messages that
	// reference a channel id with no registered channel.
	ErrUnknownChannel = errors.New("mux: unknown channel")

	// ErrChannelDeclined matches any *DeclinedError.
	ErrChannelDeclined = errors.New("mux: channel declined")
)

// DeclinedError reports that the remote side refused to open a channel.
type DeclinedError struct {
	Type   string
	Reason string
	Cause  string
}

func (e *DeclinedError) Error() string {
	msg := fmt.Sprintf("mux: channel of type %q declined", e.Type)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != "" {
		msg += " (" + e.Cause + ")"
	}
	return msg
}

func (e *DeclinedError) Is(target error) bool {
	return target == ErrChannelDeclined
}

// Decline returns an error that, when returned from Handler.Accept, refuses
// the channel with reason as the refusal reason.
func Decline(reason string) error {
	return &declineError{reason: reason}
}

type declineError struct {
	reason string
}

func (e *declineError) Error() string {
	return "declined: " + e.reason
}

// refusal turns an Accept failure into the reason and cause carried by the
// REFUSED message.
func refusal(err error) (reason, cause string) {
	var d *declineError
	if errors.As(err, &d) {
		return d.reason, ""
	}
	return "accept failed", err.Error()
}

func interrupted(ctxErr error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, ctxErr)
}
