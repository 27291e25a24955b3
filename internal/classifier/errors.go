package classifier

import "errors"

var (
	// ErrInvalidJSON is returned when the model's response body does not
	// parse as JSON at all.
	ErrInvalidJSON = errors.New("classifier: invalid JSON result")
	// ErrSchema is returned when parsed JSON fails schema validation
	// (unknown enum value, missing required field, out-of-range number).
	ErrSchema = errors.New("classifier: schema validation failed")
)
