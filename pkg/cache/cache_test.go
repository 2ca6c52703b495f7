package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_InsertAndRetrieve(t *testing.T) {
	c := NewCache(3)

	require.NoError(t, c.Insert("A", "valueA", 1))
	require.NoError(t, c.Insert("B", "valueB", 1))
	require.NoError(t, c.Insert("C", "valueC", 1))
	assert.Equal(t, 3, c.GetWeight())
	assert.Equal(t, 3, c.GetBudget())
	assert.Equal(t, 3, c.Len())

	value, ok := c.Retrieve("B")
	require.True(t, ok)
	assert.Equal(t, "valueB", value)

	_, ok = c.Retrieve("missing")
	assert.False(t, ok)
}

func TestCache_DuplicateRejected(t *testing.T) {
	c := NewCache(2)

	require.NoError(t, c.Insert("dupe", "value", 1))
	assert.Equal(t, ErrKeyExists, c.Insert("dupe", "value", 1))
	assert.Equal(t, 1, c.GetWeight())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)

	require.NoError(t, c.Insert("A", "valueA", 1))
	require.NoError(t, c.Insert("B", "valueB", 1))

	// A becomes the most recently used
	_, ok := c.Retrieve("A")
	require.True(t, ok)

	require.NoError(t, c.Insert("C", "valueC", 1))
	assert.Equal(t, 2, c.GetWeight())

	_, ok = c.Retrieve("B")
	assert.False(t, ok)
	_, ok = c.Retrieve("A")
	assert.True(t, ok)
	_, ok = c.Retrieve("C")
	assert.True(t, ok)
}

func TestCache_HeavyItemEvictsMany(t *testing.T) {
	c := NewCache(3)

	require.NoError(t, c.Insert("A", "valueA", 1))
	require.NoError(t, c.Insert("B", "valueB", 1))
	require.NoError(t, c.Insert("C", "valueC", 1))
	require.NoError(t, c.Insert("D", "valueD", 3))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 3, c.GetWeight())

	// An item heavier than the budget evicts itself
	require.NoError(t, c.Insert("E", "valueE", 4))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.GetWeight())

	require.NoError(t, c.Insert("F", "valueF", 1))
	value, ok := c.Retrieve("F")
	require.True(t, ok)
	assert.Equal(t, "valueF", value)
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(2)

	require.NoError(t, c.Insert("A", "valueA", 1))
	c.Clear()

	assert.Equal(t, 0, c.GetWeight())
	assert.Equal(t, 0, c.Len())
	_, ok := c.Retrieve("A")
	assert.False(t, ok)

	require.NoError(t, c.Insert("A", "valueA", 1))
}

func TestCache_Concurrency(t *testing.T) {
	c := NewCache(50)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("key%d", i)
			assert.NoError(t, c.Insert(key, i, 1))
			c.Retrieve(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
	assert.Equal(t, 50, c.GetWeight())
}
