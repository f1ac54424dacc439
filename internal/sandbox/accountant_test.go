package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountantRealloc(t *testing.T) {
	tests := []struct {
		name          string
		limit         int64
		old, new      int64
		wantErr       error
		wantAvailable int64
	}{
		{name: "fresh allocation", limit: 1024, old: 0, new: 100, wantAvailable: 924},
		{name: "exact fit", limit: 1024, old: 0, new: 1024, wantAvailable: 0},
		{name: "over limit", limit: 1024, old: 0, new: 1025, wantErr: ErrOutOfMemory, wantAvailable: 1024},
		{name: "free", limit: 1024, old: 0, new: 0, wantAvailable: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAccountant(tt.limit)
			err := a.Realloc(tt.old, tt.new)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAvailable, a.Available())
		})
	}
}

func TestAccountantGrowShrinkFree(t *testing.T) {
	a := NewAccountant(1000)

	assert.NoError(t, a.Realloc(0, 400))
	assert.Equal(t, int64(600), a.Available())

	// growth is charged by the difference only
	assert.NoError(t, a.Realloc(400, 900))
	assert.Equal(t, int64(100), a.Available())

	// shrinking always succeeds and credits the difference
	assert.NoError(t, a.Realloc(900, 300))
	assert.Equal(t, int64(700), a.Available())

	// a failed grow leaves the counter unchanged
	assert.ErrorIs(t, a.Realloc(300, 1200), ErrOutOfMemory)
	assert.Equal(t, int64(700), a.Available())

	assert.NoError(t, a.Realloc(300, 0))
	assert.Equal(t, int64(1000), a.Available())
	assert.Equal(t, int64(0), a.InUse())
	assert.Equal(t, int64(1000), a.Limit())
}

func TestAccountantFreeSequenceRestoresLimit(t *testing.T) {
	a := NewAccountant(4096)
	sizes := []int64{10, 200, 3000, 1, 0, 800}

	for _, size := range sizes {
		assert.NoError(t, a.Realloc(0, size))
	}
	assert.True(t, a.Available() >= 0)

	for _, size := range sizes {
		assert.NoError(t, a.Realloc(size, 0))
	}
	assert.Equal(t, a.Limit(), a.Available())
}
