package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"trims", "  hi there \n", "hi there"},
		{"keeps inner newline and tab", "line one\nline\ttwo", "line one\nline\ttwo"},
		{"drops control bytes", "bell\a and null\x00", "bell and null"},
		{"only control", "\x00\x01", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MessageText(tt.input))
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Alice Smith", DisplayName(" Alice\n Smith\t"))
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("alice"))
	assert.True(t, ValidUsername("bob.smith_2-x"))
	assert.False(t, ValidUsername("alice smith"))
	assert.False(t, ValidUsername("<script>"))
	assert.False(t, ValidUsername(""))
}
