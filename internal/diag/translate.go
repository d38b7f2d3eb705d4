// Package diag turns engine failures into host-readable diagnostics.
package diag

import (
	"errors"
	"strings"

	"github.com/itsmostafa/goverticle/internal/engine"
	"github.com/itsmostafa/goverticle/internal/logging"
)

// Diagnostic is a failure ready to be shown to an operator.
type Diagnostic struct {
	Message   string
	Backtrace []string
	// Fatal marks failures that did not come from script code.
	Fatal bool
}

func (d Diagnostic) String() string {
	return d.Message + "\n" + strings.Join(d.Backtrace, "\n")
}

// Translator keeps only the backtrace frames that point into scripts.
type Translator struct {
	marker string
}

// NewTranslator returns a Translator that keeps frames containing marker,
// usually the script file extension.
func NewTranslator(marker string) *Translator {
	return &Translator{marker: marker}
}

// Translate builds a Diagnostic from err.
func (t *Translator) Translate(err error) Diagnostic {
	var se *engine.ScriptError
	if !errors.As(err, &se) {
		return Diagnostic{Message: err.Error(), Fatal: true}
	}

	d := Diagnostic{Message: se.Message}
	if se.Kind == engine.KindUndefinedName {
		d.Message = "Invalid or undefined name: " + se.Name
	}
	for _, frame := range se.Backtrace {
		if strings.Contains(frame, t.marker) {
			d.Backtrace = append(d.Backtrace, frame)
		}
	}
	return d
}

// Report writes the diagnostic for err to log.
func (t *Translator) Report(log logging.Logger, lang string, err error) {
	d := t.Translate(err)
	if d.Fatal {
		log.Error("Unexpected exception in "+lang+" verticle: "+d.String(), "lang", lang)
		return
	}
	log.Error("Exception in "+lang+" verticle: "+d.String(), "lang", lang)
}
