package display

import "errors"

var (
	// ErrInitialization is returned by Init when the compositor could not be
	// brought up. Nothing is left running.
	ErrInitialization = errors.New("initialization failed")
	// ErrConfiguration is returned when video info is rejected.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrDevice is returned when an input device cannot be added.
	ErrDevice = errors.New("input device error")
	// ErrFatalRuntime means the compositor loop died.
	ErrFatalRuntime = errors.New("fatal runtime error")
	// ErrTerminated is returned by Frame once the display finished or failed.
	ErrTerminated = errors.New("display terminated")
	// ErrInvalidState is returned for operations the current state forbids.
	ErrInvalidState = errors.New("invalid state")
)
