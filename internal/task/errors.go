package task

import "errors"

var (
	ErrStopped   = errors.New("runner stopped")
	ErrQueueFull = errors.New("runner queue full")
)
