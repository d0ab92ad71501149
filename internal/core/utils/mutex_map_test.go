package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMapSerializesPerKey(t *testing.T) {
	m := NewMutexMap(10)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, m.Lock("session"))
			counter++
			require.NoError(t, m.Unlock("session"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestMutexMapMaxSize(t *testing.T) {
	m := NewMutexMap(2)

	require.NoError(t, m.Lock("a"))
	require.NoError(t, m.Lock("b"))
	assert.Error(t, m.Lock("c"))

	require.NoError(t, m.Unlock("a"))
	require.NoError(t, m.Lock("c"))
	require.NoError(t, m.Unlock("b"))
	require.NoError(t, m.Unlock("c"))
}

func TestMutexMapUnlockUnknownKey(t *testing.T) {
	m := NewMutexMap(2)
	assert.Error(t, m.Unlock("missing"))
}
