package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLiteral(t *testing.T) {
	addr, err := Resolve(context.Background(), "127.0.0.1:6881", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6881", addr.String())
	assert.Len(t, addr.IP, net.IPv4len)

	addr, err = Resolve(context.Background(), "[::1]:6881", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "[::1]:6881", addr.String())
}

func TestResolveLocalhost(t *testing.T) {
	addr, err := Resolve(context.Background(), "localhost:80", time.Second)
	require.NoError(t, err)
	assert.True(t, addr.IP.IsLoopback())
}

func TestResolveInvalid(t *testing.T) {
	_, err := Resolve(context.Background(), "127.0.0.1", time.Second)
	assert.Error(t, err)
	_, err = Resolve(context.Background(), "127.0.0.1:http", time.Second)
	assert.Error(t, err)
	_, err = Resolve(context.Background(), "127.0.0.1:0", time.Second)
	assert.Equal(t, ErrInvalidPort, err)
	_, err = Resolve(context.Background(), "127.0.0.1:65536", time.Second)
	assert.Equal(t, ErrInvalidPort, err)
}
