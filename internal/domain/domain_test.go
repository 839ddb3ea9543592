package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 90, CallDuration(start, start.Add(90*time.Second+400*time.Millisecond)))
	assert.Equal(t, 0, CallDuration(start, start.Add(-time.Minute)))
	assert.Equal(t, 0, CallDuration(time.Time{}, start))
}

func TestCallKindValid(t *testing.T) {
	assert.True(t, CallKindAudio.Valid())
	assert.True(t, CallKindVideo.Valid())
	assert.False(t, CallKind("screen").Valid())
	assert.False(t, CallKind("").Valid())
}

func TestCalculateBucket(t *testing.T) {
	assert.Equal(t, 202611, CalculateBucket(time.Date(2026, 11, 30, 23, 0, 0, 0, time.UTC)))
}

func TestPreviousBucket(t *testing.T) {
	assert.Equal(t, 202610, PreviousBucket(time.Date(2026, 11, 1, 0, 5, 0, 0, time.UTC)))
	assert.Equal(t, 202602, PreviousBucket(time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 202512, PreviousBucket(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
}
