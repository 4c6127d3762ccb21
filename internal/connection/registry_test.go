package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SharesSessions(t *testing.T) {
	r := NewRegistry(&fakeTransport{}, nil)
	t.Cleanup(func() { r.DestroyAll(context.Background()) })

	cfg := testConfig()
	a, err := r.Get("ws://a.local", cfg)
	require.NoError(t, err)
	b, err := r.Get("ws://a.local", cfg)
	require.NoError(t, err)
	assert.Same(t, a, b)

	other := cfg
	other.MaxCacheSize = 7
	c, err := r.Get("ws://a.local", other)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	d, err := r.Get("ws://b.local", cfg)
	require.NoError(t, err)
	assert.NotSame(t, a, d)

	assert.Equal(t, 3, r.Len())
}

func TestRegistry_Destroy(t *testing.T) {
	r := NewRegistry(&fakeTransport{}, nil)
	cfg := testConfig()

	s, err := r.Get("ws://a.local", cfg)
	require.NoError(t, err)

	assert.True(t, r.Destroy("ws://a.local", cfg))
	assert.False(t, r.Destroy("ws://a.local", cfg))
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrDestroyed)

	fresh, err := r.Get("ws://a.local", cfg)
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	fresh.Destroy()
}

func TestRegistry_ReplacesSessionDestroyedByHolder(t *testing.T) {
	r := NewRegistry(&fakeTransport{}, nil)
	t.Cleanup(func() { r.DestroyAll(context.Background()) })
	cfg := testConfig()

	s, err := r.Get("ws://a.local", cfg)
	require.NoError(t, err)
	s.Destroy()
	assert.True(t, s.Destroyed())

	fresh, err := r.Get("ws://a.local", cfg)
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	assert.False(t, fresh.Destroyed())
	assert.Equal(t, 1, r.Len())

	again, err := r.Get("ws://a.local", cfg)
	require.NoError(t, err)
	assert.Same(t, fresh, again)
}

func TestRegistry_DestroyAll(t *testing.T) {
	tr := &fakeTransport{script: openScript}
	r := NewRegistry(tr, nil)
	cfg := testConfig()

	var sessions []*Session
	for _, url := range []string{"ws://a.local", "ws://b.local", "ws://c.local"} {
		s, err := r.Get(url, cfg)
		require.NoError(t, err)
		require.NoError(t, s.Connect(testContext(t)))
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.DestroyAll(ctx))

	assert.Zero(t, r.Len())
	for _, s := range sessions {
		assert.Equal(t, StateClosed, s.State())
	}
}

func TestRegistry_InvalidConfig(t *testing.T) {
	r := NewRegistry(&fakeTransport{}, nil)
	_, err := r.Get("", testConfig())
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}
