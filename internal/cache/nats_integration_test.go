//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.11.7-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp"),
			Cmd:          []string{"--js"},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	conn, err := nats.Connect(fmt.Sprintf("nats://%s:%s", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestNATSCacheIntegration(t *testing.T) {
	conn := startNATS(t)
	ctx := context.Background()
	ttl := 2 * time.Second

	c, err := OpenNATSCache(ctx, conn, "invasions-test", ttl)
	require.NoError(t, err)
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "cities:all")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetEx(ctx, "cities:all", []byte(`[]`), ttl))
	value, ok, err := c.Get(ctx, "cities:all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(value))

	assert.Error(t, c.SetEx(ctx, "cities:all", []byte(`[]`), time.Minute))

	assert.Eventually(t, func() bool {
		_, ok, err := c.Get(ctx, "cities:all")
		return err == nil && !ok
	}, 10*time.Second, 250*time.Millisecond)

	// Reopening binds to the existing bucket.
	_, err = OpenNATSCache(ctx, conn, "invasions-test", ttl)
	require.NoError(t, err)
}

func TestNATSCacheAdoptsConfiguredTTL(t *testing.T) {
	conn := startNATS(t)
	ctx := context.Background()

	js, err := jetstream.New(conn)
	require.NoError(t, err)
	// A bucket left behind without expiry, e.g. by an older deployment.
	_, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "invasions-cache"})
	require.NoError(t, err)

	ttl := time.Second
	c, err := OpenNATSCache(ctx, conn, "invasions-cache", ttl)
	require.NoError(t, err)

	kv, err := js.KeyValue(ctx, "invasions-cache")
	require.NoError(t, err)
	status, err := kv.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, ttl, status.TTL())

	require.NoError(t, c.SetEx(ctx, "tribes:all", []byte(`{}`), ttl))
	assert.Eventually(t, func() bool {
		_, ok, err := c.Get(ctx, "tribes:all")
		return err == nil && !ok
	}, 10*time.Second, 250*time.Millisecond)

	// Restarting with a new TTL updates the bucket again.
	_, err = OpenNATSCache(ctx, conn, "invasions-cache", 3*time.Second)
	require.NoError(t, err)
	status, err = kv.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, status.TTL())
}

func TestNATSCacheBindsLazily(t *testing.T) {
	conn := startNATS(t)
	ctx := context.Background()

	c := NewNATSCache(conn, "invasions-lazy", time.Minute)
	_, ok, err := c.Get(ctx, "cities:all")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Ping(ctx))
}
