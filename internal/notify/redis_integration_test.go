//go:build integration

package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"bloodlink/internal/notify"
	"bloodlink/pkg/types"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisDeliversToSubscribers(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := notify.NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(ctx, "bloodlink.test")
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	n := notify.NewRedis(client, "bloodlink.test")
	require.NoError(t, n.RequestFulfilled(ctx, notify.RequestEvent{
		RequestID:   "req_1",
		AssignedTo:  "org_bank",
		BloodGroup:  types.BloodGroupOPos,
		UnitsIssued: 3,
		Status:      types.RequestStatusFulfilled,
		At:          time.Now(),
	}))

	select {
	case msg := <-sub.Channel():
		var envelope struct {
			Type    string              `json:"type"`
			Payload notify.RequestEvent `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
		require.Equal(t, notify.EventRequestFulfilled, envelope.Type)
		require.Equal(t, "req_1", envelope.Payload.RequestID)
		require.Equal(t, 3, envelope.Payload.UnitsIssued)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
