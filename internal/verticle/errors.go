package verticle

import (
	"errors"

	"github.com/itsmostafa/goverticle/internal/engine"
)

var (
	// ErrResourceNotFound is returned when a verticle name cannot be
	// resolved by the factory's loader.
	ErrResourceNotFound = engine.ErrResourceNotFound

	// ErrAlreadyStarted is returned by Start on a unit that is running or
	// has stopped.
	ErrAlreadyStarted = errors.New("verticle already started")

	// ErrUnsupportedLanguage is returned by NewFactory for an unknown
	// extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)
