package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLRUCache(t *testing.T) {
	cache := NewLRUCache[string](10)

	require.NotNil(t, cache)
	assert.Equal(t, 10, cache.maxSize)
	assert.NotNil(t, cache.cache)
	assert.NotNil(t, cache.lru)
}

func TestCacheMiss(t *testing.T) {
	cache := NewLRUCache[string](10)
	callCount := 0

	value, err := cache.Get("key1", func() (string, error) {
		callCount++
		return "value1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "value1", value)
	assert.Equal(t, 1, callCount)
}

func TestCacheHit(t *testing.T) {
	cache := NewLRUCache[string](10)
	callCount := 0

	cons := func() (string, error) {
		callCount++
		return "value1", nil
	}

	_, err := cache.Get("key1", cons)
	require.NoError(t, err)

	value, err := cache.Get("key1", cons)
	require.NoError(t, err)
	assert.Equal(t, "value1", value)
	assert.Equal(t, 1, callCount)
}

func TestCacheConstructorError(t *testing.T) {
	cache := NewLRUCache[string](10)
	boom := errors.New("boom")

	_, err := cache.Get("key1", func() (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	// a failed construction must not poison the slot
	value, err := cache.Get("key1", func() (string, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
}

func TestCacheEviction(t *testing.T) {
	cache := NewLRUCache[int](2)

	for i := range 3 {
		key := fmt.Sprintf("key%d", i)
		_, err := cache.Get(key, func() (int, error) {
			return i, nil
		})
		require.NoError(t, err)
	}

	// key0 was least recently used and must have been evicted
	called := false
	_, err := cache.Get("key0", func() (int, error) {
		called = true
		return 0, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCacheRemove(t *testing.T) {
	cache := NewLRUCache[string](10)

	_, err := cache.Get("key1", func() (string, error) {
		return "value1", nil
	})
	require.NoError(t, err)

	cache.Remove("key1")

	called := false
	_, err = cache.Get("key1", func() (string, error) {
		called = true
		return "value2", nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
