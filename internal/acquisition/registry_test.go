package acquisition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(&scriptedModel{}, testCatalog(), Options{}, 2)

	a, err := r.Create()
	require.NoError(t, err)
	_, err = r.Create()
	require.NoError(t, err)
	_, err = r.Create()
	assert.ErrorIs(t, err, ErrTooManySessions)

	got, err := r.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, r.Delete(a.ID()))
	assert.Equal(t, 1, r.Len())
	_, err = r.Get(a.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.Delete(a.ID()), ErrSessionNotFound)
}
