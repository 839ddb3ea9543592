package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 20},
		{"10", 10},
		{"0", MinLimit},
		{"-4", MinLimit},
		{"500", 50},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLimit(tt.input, 20, 50)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLimit("ten", 20, 50)
	assert.Error(t, err)
}
