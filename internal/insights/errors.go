package insights

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrEmptyInput is returned when statistics are requested for no readings
	ErrEmptyInput = errors.New("no readings")
	// ErrInvalidParams is returned for a request the engine cannot serve
	ErrInvalidParams = errors.New("invalid parameters")
	// ErrMalformedOutput is returned when model text holds no usable Insight
	ErrMalformedOutput = errors.New("malformed model output")
)

var validate = validator.New()
