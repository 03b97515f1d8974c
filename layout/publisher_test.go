package layout

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_PublishResult(t *testing.T) {
	clearMQTTEnv(t)
	mock := NewMockClient()
	mock.SetConnected(true)
	pub := NewPublisher(mock, DefaultConfig())

	r := FrameResult{ID: "scene_room0_1", RoomID: "scene_room0", CameraHeight: 1.5, IoU: IoU{IoU2D: 0.9, IoU3D: 0.8}}
	require.NoError(t, pub.PublishResult(r))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "panolayout/results/scene_room0_1", msgs[0].Topic)
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, byte(0), msgs[0].QoS)

	var got FrameResult
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, r.IoU, got.IoU)
	assert.Equal(t, "scene_room0", got.RoomID)
}

func TestPublisher_PublishSummary(t *testing.T) {
	clearMQTTEnv(t)
	cfg := DefaultConfig()
	cfg.MQTT.PublishPrefix = "bench"
	mock := NewMockClient()
	mock.SetConnected(true)
	pub := NewPublisher(mock, cfg)
	pub.SetQoS(1)
	pub.SetQoS(7) // ignored
	pub.SetRetain(false)

	require.NoError(t, pub.PublishSummary(Summarize(sampleResults(), SentinelZero)))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bench/results/summary", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)

	var s map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &s))
	assert.InDelta(t, 0.3, s["m2dIoU"], 1e-12)
	assert.Equal(t, "zero", s["policy"])
}

func TestPublisher_NotConnected(t *testing.T) {
	pub := NewPublisher(NewMockClient(), DefaultConfig())
	assert.Error(t, pub.PublishResult(FrameResult{ID: "a_0"}))

	assert.Error(t, NewPublisher(nil, nil).PublishSummary(Summary{}))
}

func TestPublisher_PublishError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetPublishError(errors.New("queue full"))
	pub := NewPublisher(mock, DefaultConfig())

	err := pub.PublishResult(FrameResult{ID: "a_0"})
	assert.ErrorContains(t, err, "queue full")
	assert.Empty(t, mock.GetPublishedMessages())
}
