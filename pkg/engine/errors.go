package engine

import "errors"

var (
	// ErrNotRunning is returned by operations that need a started engine.
	ErrNotRunning = errors.New("engine: not running")

	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine: already running")

	// ErrNoWriter is returned by consolidation when no durable writer is wired.
	ErrNoWriter = errors.New("engine: no durable writer configured")
)
