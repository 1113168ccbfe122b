package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidFormat       = errors.New("invalid format selection")
	ErrUnknownEngine       = errors.New("unknown engine")
	ErrUnsupportedInput    = errors.New("unsupported input type")
	ErrEngineFailure       = errors.New("engine failure")
	ErrEngineTimeout       = errors.New("engine timeout")
	ErrIllegalTransition   = errors.New("illegal job state transition")
	ErrEmptySubmission     = errors.New("empty submission")
	ErrNothingMaterialized = errors.New("no materialized files")
)
