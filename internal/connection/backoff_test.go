package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 4 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second},
		{100, 4 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_BaseAboveMax(t *testing.T) {
	b := Backoff{Base: 10 * time.Second, Max: 3 * time.Second}
	assert.Equal(t, 3*time.Second, b.Delay(1))
}

func TestBackoff_Defaults(t *testing.T) {
	b := DefaultConfig().backoff()
	assert.Equal(t, 3*time.Second, b.Delay(1))
	assert.Equal(t, 6*time.Second, b.Delay(2))
	assert.Equal(t, 10*time.Second, b.Delay(3))
}
