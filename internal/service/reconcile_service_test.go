package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeRate(t *testing.T) {
	t.Run("empty window counts as fully reconciled", func(t *testing.T) {
		assert.Equal(t, 1.0, ComputeRate(0, 0))
	})

	t.Run("no errors", func(t *testing.T) {
		assert.Equal(t, 1.0, ComputeRate(10, 0))
	})

	t.Run("partial errors", func(t *testing.T) {
		assert.InDelta(t, 0.8, ComputeRate(10, 2), 1e-9)
		assert.InDelta(t, 0.5, ComputeRate(4, 2), 1e-9)
	})

	t.Run("all errors", func(t *testing.T) {
		assert.Equal(t, 0.0, ComputeRate(3, 3))
	})
}
