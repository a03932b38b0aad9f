package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer func() { _ = s.Close() }()

	handle, err := s.Put(ctx, "application/json", []byte(`{"rows": 42}`))
	require.NoError(t, err)
	assert.True(t, IsHandle(handle))

	art, err := s.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "application/json", art.ContentType)
	assert.Equal(t, []byte(`{"rows": 42}`), art.Data)

	require.NoError(t, s.Delete(ctx, handle))
	_, err = s.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer func() { _ = s.Close() }()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	handle, err := s.Put(ctx, "text/plain", []byte("report"))
	require.NoError(t, err)

	now = base.Add(59 * time.Second)
	_, err = s.Get(ctx, handle)
	assert.NoError(t, err)

	now = base.Add(2 * time.Minute)
	_, err = s.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_BadHandle(t *testing.T) {
	s := NewMemoryStore(0)
	defer func() { _ = s.Close() }()

	_, err := s.Get(context.Background(), "not-an-artifact")
	assert.ErrorIs(t, err, ErrBadHandle)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(ctx, mr.Addr(), "", 0, time.Hour)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	handle, err := s.Put(ctx, "text/html", []byte("<html>page</html>"))
	require.NoError(t, err)

	art, err := s.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "text/html", art.ContentType)
	assert.Equal(t, []byte("<html>page</html>"), art.Data)

	require.NoError(t, s.Delete(ctx, handle))
	_, err = s.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(ctx, mr.Addr(), "", 0, time.Minute)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	handle, err := s.Put(ctx, "text/plain", []byte("transient"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrNotFound)
}
