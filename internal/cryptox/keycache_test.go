package cryptox

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyCache_BoundedEviction(t *testing.T) {
	c := newKeyCache(3)

	salts := make([][]byte, 5)
	for i := range salts {
		salts[i] = []byte(fmt.Sprintf("salt-%02d", i))
		c.put(salts[i], []byte(fmt.Sprintf("key-%02d", i)))
	}

	assert.Equal(t, 3, c.len())

	// Oldest two are gone, newest three remain.
	_, ok := c.get(salts[0])
	assert.False(t, ok)
	_, ok = c.get(salts[1])
	assert.False(t, ok)
	for i := 2; i < 5; i++ {
		k, ok := c.get(salts[i])
		assert.True(t, ok)
		assert.Equal(t, []byte(fmt.Sprintf("key-%02d", i)), k)
	}
}

func TestKeyCache_PutExistingDoesNotEvict(t *testing.T) {
	c := newKeyCache(2)
	c.put([]byte("a"), []byte("k1"))
	c.put([]byte("b"), []byte("k2"))
	c.put([]byte("a"), []byte("k1-updated"))

	assert.Equal(t, 2, c.len())
	k, ok := c.get(salt("a"))
	assert.True(t, ok)
	assert.Equal(t, []byte("k1-updated"), k)
}

func salt(s string) []byte { return []byte(s) }

func TestKeyCache_ClearWipesKeys(t *testing.T) {
	c := newKeyCache(2)
	k := []byte("secret-key")
	c.put([]byte("a"), k)

	c.clear()

	assert.Equal(t, 0, c.len())
	_, ok := c.get([]byte("a"))
	assert.False(t, ok)
	assert.Equal(t, make([]byte, len(k)), k)
}
