package model

import "errors"

var (
	// ErrInvalidArgument reports a malformed input: a non-positive period,
	// an unknown metric name, or a bar whose high is below its low.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyWindow is returned when a window with zero bars is passed where
	// at least one bar is required.
	ErrEmptyWindow = errors.New("empty window")
)
