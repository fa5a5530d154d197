package session

import (
	"errors"
	"testing"

	"browser-session/internal/domain/entity"

	"github.com/stretchr/testify/assert"
)

func TestWrapScript_QuotesIDAndBody(t *testing.T) {
	script := wrapScript(`c"1`, "document.title = 'x'\nreturn 1")

	assert.Contains(t, script, `const commandId = "c\"1";`)
	assert.Contains(t, script, `eval("document.title = 'x'\nreturn 1")`)
	assert.NotContains(t, script, "%!")
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name    string
		value   entity.Value
		err     error
		wantOK  bool
		wantErr string
	}{
		{
			name:   "ok with value",
			value:  entity.ObjectValue(entity.NewObject().Set("ok", entity.Bool(true)).Set("value", entity.Int(3))),
			wantOK: true,
		},
		{
			name:    "thrown",
			value:   entity.ObjectValue(entity.NewObject().Set("ok", entity.Bool(false)).Set("error", entity.String("x is not defined"))),
			wantErr: "x is not defined",
		},
		{
			name:    "failure without message",
			value:   entity.ObjectValue(entity.NewObject().Set("ok", entity.Bool(false))),
			wantErr: "script failed",
		},
		{
			name:    "not an object",
			value:   entity.String("hello"),
			wantErr: "unexpected script result string",
		},
		{
			name:    "execution error",
			err:     errors.New("target closed"),
			wantErr: "target closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := parseOutcome(tt.value, tt.err)
			assert.Equal(t, tt.wantOK, out.OK)
			assert.Equal(t, tt.wantErr, out.Error)
		})
	}
}

func TestParseOutcome_KeepsValue(t *testing.T) {
	out := parseOutcome(entity.ObjectValue(entity.NewObject().Set("ok", entity.Bool(true)).Set("value", entity.String("done"))), nil)

	s, ok := out.Value.AsString()
	assert.True(t, ok)
	assert.Equal(t, "done", s)
}

func TestErrorPageURL(t *testing.T) {
	assert.Equal(t, "", errorPageURL("", "x"))
	assert.Equal(t, "https://app.example/error?error=bad+login", errorPageURL("https://app.example/error", "bad login"))
	assert.Equal(t, "https://app.example/e?error=x%26y&lang=en", errorPageURL("https://app.example/e?lang=en", "x&y"))
}
