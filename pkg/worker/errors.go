package worker

import "errors"

var (
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	// ErrQueueFull is returned by Submit when every queue slot is taken;
	// the job is dropped.
	ErrQueueFull    = errors.New("worker: queue full")
	ErrNilProcessor = errors.New("worker: nil processor")
	ErrStopTimeout  = errors.New("worker: jobs still running at stop deadline")
)
