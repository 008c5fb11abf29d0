package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"slug", "for-or-since", "jwt_token", "abc.def.ghi", "dangling"})
	assert.Equal(t, []interface{}{"slug", "for-or-since", "jwt_token", "[REDACTED]", "dangling"}, out)
}

func TestNopDoesNotPanic(t *testing.T) {
	l := Nop().With("component", "test")
	l.Info("hello", "k", 1)
	l.Warn("careful", "password", "hunter2")
	l.Sync()
}
