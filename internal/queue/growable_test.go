package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrowable_BasicSendReceive(t *testing.T) {
	buf := NewGrowable[int](10)

	for i := 0; i < 5; i++ {
		require.True(t, buf.Send(i), "Send(%d)", i)
	}
	assert.Equal(t, 5, buf.Len())

	for i := 0; i < 5; i++ {
		val, ok := buf.TryReceive()
		require.True(t, ok, "TryReceive() for item %d", i)
		assert.Equal(t, i, val)
	}
	assert.Equal(t, 0, buf.Len())
}

func TestGrowable_GrowsWhenFull(t *testing.T) {
	buf := NewGrowable[int](4)

	for i := 0; i < 4; i++ {
		buf.Send(i)
	}
	assert.Equal(t, Stats{Len: 4, Capacity: 4, Peak: 4}, buf.Stats())

	buf.Send(4)
	buf.Send(5)
	buf.Send(6)

	stats := buf.Stats()
	assert.Equal(t, 8, stats.Capacity)
	assert.Equal(t, 1, stats.Resizes)
	assert.Equal(t, 7, stats.Peak)

	for i := 0; i < 7; i++ {
		val, ok := buf.TryReceive()
		require.True(t, ok)
		assert.Equal(t, i, val)
	}
}

func TestGrowable_GrowWhileWrapped(t *testing.T) {
	buf := NewGrowable[int](4)

	// Move head forward so the next sends wrap around.
	buf.Send(0)
	buf.Send(1)
	buf.TryReceive()
	buf.TryReceive()

	for i := 2; i < 40; i++ {
		require.True(t, buf.Send(i))
	}
	for i := 2; i < 40; i++ {
		val, ok := buf.TryReceive()
		require.True(t, ok)
		require.Equal(t, i, val)
	}
}

func TestGrowable_ReceiveBlocksUntilSend(t *testing.T) {
	buf := NewGrowable[string](2)

	got := make(chan string, 1)
	go func() {
		v, _ := buf.Receive()
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Send("hello")

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock")
	}
}

func TestGrowable_CloseDrainsThenStops(t *testing.T) {
	buf := NewGrowable[int](4)
	buf.Send(1)
	buf.Send(2)
	buf.Close()

	assert.False(t, buf.Send(3), "Send after Close should fail")

	v, ok := buf.Receive()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = buf.Receive()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = buf.Receive()
	assert.False(t, ok)
}

func TestGrowable_ConcurrentProducers(t *testing.T) {
	buf := NewGrowable[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				buf.Send(i)
			}
		}()
	}
	wg.Wait()

	stats := buf.Stats()
	assert.Equal(t, 1000, stats.Len)
	assert.Equal(t, 1000, stats.Peak)
}

func TestGrowable_PeakSurvivesDrain(t *testing.T) {
	buf := NewGrowable[int](2)
	for i := 0; i < 5; i++ {
		buf.Send(i)
	}
	for i := 0; i < 5; i++ {
		buf.TryReceive()
	}

	stats := buf.Stats()
	assert.Zero(t, stats.Len)
	assert.Equal(t, 5, stats.Peak)
	assert.Equal(t, 2, stats.Resizes)
}
