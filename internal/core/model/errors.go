package model

import "errors"

var (
	// ErrInput marks malformed viewport or query parameters. Nothing is sent upstream.
	ErrInput = errors.New("invalid input")

	// ErrTransientFetch marks a network or backend failure while reconciling a layer.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrSave marks a failed edit write. The draft is kept for a retry.
	ErrSave = errors.New("save failed")

	// ErrNotFound marks an edit target that no longer exists.
	ErrNotFound = errors.New("not found")
)

var (
	ErrNothingToSave   = wrapSave("no selection or draft")
	ErrMissingIdentity = wrapSave("feature identity not found")
)

type saveError struct{ msg string }

func (e *saveError) Error() string { return "save failed: " + e.msg }
func (e *saveError) Unwrap() error { return ErrSave }

func wrapSave(msg string) error { return &saveError{msg: msg} }
