package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrQueueFull indicates the offline command queue is at capacity.
	ErrQueueFull = errors.New("command queue is full")
	// ErrEmptyCommand indicates a blank command was submitted.
	ErrEmptyCommand = errors.New("empty command")
	// ErrSessionNotFound indicates a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTabNotFound indicates a tab id is unknown.
	ErrTabNotFound = errors.New("tab not found")
	// ErrNoActiveSession indicates an operation needs an active session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNotConnected indicates the channel cannot send right now.
	ErrNotConnected = errors.New("not connected")
	// ErrAuthFailed indicates the peer rejected the auth token.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrSendRejected indicates the channel refused a send.
	ErrSendRejected = errors.New("send rejected")
	// ErrOffline indicates the device has no network connectivity.
	ErrOffline = errors.New("device offline")
)
