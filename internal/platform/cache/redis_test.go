package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	opts, err := Options(" 127.0.0.1:6379 ")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = Options("redis://:secret@cache.internal:6380/2")
	require.NoError(t, err)
	require.Equal(t, "cache.internal:6380", opts.Addr)
	require.Equal(t, "secret", opts.Password)
	require.Equal(t, 2, opts.DB)

	_, err = Options("")
	require.Error(t, err)
}

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := New(context.Background(), srv.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	require.NoError(t, client.Close())

	srv.Close()
	_, err = New(context.Background(), srv.Addr())
	require.Error(t, err)
}
