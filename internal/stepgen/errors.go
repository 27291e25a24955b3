package stepgen

import "errors"

var (
	// ErrInvalidJSON is returned when the model's response body does not
	// parse as JSON at all.
	ErrInvalidJSON = errors.New("stepgen: invalid JSON result")
	// ErrSchema is returned when parsed JSON fails schema validation.
	ErrSchema = errors.New("stepgen: schema validation failed")
)
