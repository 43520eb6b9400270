package client

import "errors"

var (
	// ErrNoCredential is returned when an operation needs a session
	// credential and none is held. Fatal to the operation, not the core.
	ErrNoCredential = errors.New("no session credential available")

	// ErrEmptyContent rejects a send whose content is blank after trimming.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrClosed is returned once the core has been shut down.
	ErrClosed = errors.New("client is closed")
)
