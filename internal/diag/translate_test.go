package diag

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsmostafa/goverticle/internal/engine"
	"github.com/itsmostafa/goverticle/internal/logging"
)

func TestTranslator_Translate(t *testing.T) {
	tr := NewTranslator(".js")

	tests := []struct {
		name string
		err  error
		want Diagnostic
	}{
		{
			name: "undefined name",
			err: &engine.EvaluationError{Source: "app.js", Err: &engine.ScriptError{
				Kind:      engine.KindUndefinedName,
				Name:      "foo",
				Message:   "ReferenceError: foo is not defined",
				Backtrace: []string{"at app.js:3:1(4)", "at native"},
			}},
			want: Diagnostic{
				Message:   "Invalid or undefined name: foo",
				Backtrace: []string{"at app.js:3:1(4)"},
			},
		},
		{
			name: "runtime error keeps script frames",
			err: &engine.InvocationError{Hook: "vertxStop", Err: &engine.ScriptError{
				Kind:      engine.KindRuntime,
				Message:   "Error: boom",
				Backtrace: []string{"at vertxStop (app.js:2:9(3))", "at lib/util.js:1:1(0)", "at engine internals"},
			}},
			want: Diagnostic{
				Message:   "Error: boom",
				Backtrace: []string{"at vertxStop (app.js:2:9(3))", "at lib/util.js:1:1(0)"},
			},
		},
		{
			name: "unexpected failure",
			err:  errors.New("engine exploded"),
			want: Diagnostic{Message: "engine exploded", Fatal: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Translate(tt.err))
		})
	}
}

func TestDiagnostic_String(t *testing.T) {
	d := Diagnostic{Message: "m", Backtrace: []string{"a.lua:1", "a.lua:2"}}
	assert.Equal(t, "m\na.lua:1\na.lua:2", d.String())
	assert.Equal(t, "m\n", Diagnostic{Message: "m"}.String())
}

func TestTranslator_Report(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(&buf, "info", logging.FormatJSON)
	require.NoError(t, err)
	tr := NewTranslator(".lua")

	tr.Report(log, "Lua", &engine.ScriptError{Kind: engine.KindRuntime, Message: "app.lua:1: bad", Backtrace: []string{"app.lua:1: in main chunk"}})
	assert.Contains(t, buf.String(), "Exception in Lua verticle: app.lua:1: bad")

	buf.Reset()
	tr.Report(log, "Lua", errors.New("state closed"))
	assert.Contains(t, buf.String(), "Unexpected exception in Lua verticle: state closed")
}
