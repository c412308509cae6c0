// Package session implements the voice and text conversations a host can
// activate. Both keep an append-only transcript and report every change to
// an api.SessionObserver.
package session

import "errors"

var (
	// ErrInvalidTransition is returned when an operation is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrStopped is returned by Start when Stop or Destroy interrupted it.
	ErrStopped = errors.New("session stopped")
	// ErrDestroyed is returned by any operation on a destroyed session.
	ErrDestroyed = errors.New("session destroyed")
	// ErrBusy is returned by Send while another send is in flight.
	ErrBusy = errors.New("a message is already being sent")
	// ErrEmptyMessage is returned by Send when there is neither text nor files.
	ErrEmptyMessage = errors.New("message is empty")
)
