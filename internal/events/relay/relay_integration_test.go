//go:build integration

package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/itscraftings/converse/internal/events"
)

func TestRelay_TwoNodesOverValkey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "valkey/valkey:8-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	addr := fmt.Sprintf("%s:%s", host, port.Port())

	newNode := func() (*Relay, *events.Bus) {
		client, err := Dial(addr)
		require.NoError(t, err)
		bus := events.NewBus(zerolog.Nop())
		r := New(client, "test:events", bus, zerolog.Nop())
		t.Cleanup(r.Close)
		go func() { _ = r.Run(ctx) }()
		return r, bus
	}
	a, _ := newNode()
	_, busB := newNode()
	require.NoError(t, a.HealthPing(ctx))

	sub, err := busB.Subscribe(events.TopicConversationDeleted)
	require.NoError(t, err)

	deadline := time.After(10 * time.Second)
	for {
		// the subscriber may not be attached yet; pub/sub does not replay
		a.Publish(ctx, deleted("c1"))
		select {
		case p := <-sub.C():
			assert.Equal(t, "c1", p.ConversationID())
			return
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatalf("event never crossed nodes")
		}
	}
}
