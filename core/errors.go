package core

import "errors"

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEngineCompleted   = errors.New("engine completed")
	ErrProjectNotFound   = errors.New("project not found")
	ErrProjectExists     = errors.New("project already exists")
	ErrGistNotFound      = errors.New("gist not found")
)
