package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_Order(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var order []string
	sm.RegisterShutdownFunc("redis", func(context.Context) error {
		order = append(order, "redis")
		return nil
	})
	sm.RegisterShutdownFunc("otel", func(context.Context) error {
		order = append(order, "otel")
		return nil
	})

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"otel", "redis"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	boom := errors.New("boom")

	ran := false
	sm.RegisterShutdownFunc("first", func(context.Context) error {
		ran = true
		return nil
	})
	sm.RegisterShutdownFunc("second", func(context.Context) error { return boom })

	err := sm.Shutdown(context.Background())
	assert.True(t, errors.Is(err, boom))
	assert.True(t, ran, "later failures must not stop earlier registrations")
}

func TestShutdownManager_DrainsServers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	sm := NewShutdownManager(NopLogger(), time.Second)
	sm.RegisterServer(srv)
	require.NoError(t, sm.Shutdown(context.Background()))

	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}
