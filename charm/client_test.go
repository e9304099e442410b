// ABOUTME: Tests for the charm KV client wrapper
// ABOUTME: Runs against the in-memory test store
package charm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetSyncs(t *testing.T) {
	c := NewTestClient(t)

	require.NoError(t, c.Set([]byte("actions/1"), []byte(`{"id":"1"}`)))
	got, err := c.Get([]byte("actions/1"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(got))
	assert.Equal(t, 1, SyncCount(c))

	require.NoError(t, c.Delete([]byte("actions/1")))
	assert.Equal(t, 2, SyncCount(c))
	_, err = c.Get([]byte("actions/1"))
	assert.Error(t, err)
}

func TestKeysWithPrefix(t *testing.T) {
	c := NewTestClient(t)

	require.NoError(t, c.Set([]byte("actions/1"), []byte("a")))
	require.NoError(t, c.Set([]byte("actions/2"), []byte("b")))
	require.NoError(t, c.Set([]byte("other/1"), []byte("c")))

	keys, err := c.KeysWithPrefix([]byte("actions/"))
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
