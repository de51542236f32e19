package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"bloodlink/internal/notify"
	"bloodlink/internal/notify/mocks"
	"bloodlink/pkg/types"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingPublisher struct {
	channel string
	message []byte
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.channel = channel
	p.message = message.([]byte)
	cmd.SetVal(1)
	return cmd
}

func TestRedisPublishesEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	n := notify.NewRedis(pub, "bloodlink.events")

	event := notify.RequestEvent{
		RequestID:   "req_1",
		AssignedTo:  "bank_a",
		BloodGroup:  types.BloodGroupOPos,
		UnitsIssued: 3,
		Status:      types.RequestStatusFulfilled,
		At:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, n.RequestFulfilled(context.Background(), event))
	assert.Equal(t, "bloodlink.events", pub.channel)

	var got struct {
		Type    string              `json:"type"`
		Payload notify.RequestEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(pub.message, &got))
	assert.Equal(t, notify.EventRequestFulfilled, got.Type)
	assert.Equal(t, event.RequestID, got.Payload.RequestID)
	assert.Equal(t, event.UnitsIssued, got.Payload.UnitsIssued)
	assert.True(t, event.At.Equal(got.Payload.At))
}

func TestRedisPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection refused")}
	n := notify.NewRedis(pub, "bloodlink.events")

	err := n.DonationStageChanged(context.Background(), notify.DonationEvent{DonationID: "don_1"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := notify.NewLog(logger)

	require.NoError(t, n.DonationStageChanged(context.Background(), notify.DonationEvent{
		DonationID: "don_1",
		From:       types.DonationStageScreening,
		To:         types.DonationStageInProgress,
	}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, notify.EventDonationStageChanged, entry.Data["event"])
	assert.Equal(t, "don_1", entry.Data["donation_id"])
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := mocks.NewMockNotifier(ctrl)
	second := mocks.NewMockNotifier(ctrl)

	event := notify.RequestEvent{RequestID: "req_1"}
	first.EXPECT().RequestFulfilled(gomock.Any(), event).Return(errors.New("redis down"))
	second.EXPECT().RequestFulfilled(gomock.Any(), event).Return(nil)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	err := notify.Multi{first, second, notify.NewLog(logger)}.RequestFulfilled(context.Background(), event)
	assert.ErrorContains(t, err, "redis down")
}
