package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("tag-1", "echo", map[string]int{"x": 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "tag-1", env.ID)
	assert.Equal(t, "echo", env.Service)
	assert.JSONEq(t, `{"x":1}`, string(env.Request))
	assert.Empty(t, env.RoutingTag)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"tag-1","service":"echo","request":{"x":1}}`, string(data))
}

func TestNewEnvelopeRoutingTag(t *testing.T) {
	env, err := NewEnvelope("tag-2", "echo", nil, "bulk")
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"tag-2","service":"echo","request":null,"routingTag":"bulk"}`, string(data))
}

func TestNewEnvelopeUnmarshalablePayload(t *testing.T) {
	_, err := NewEnvelope("tag-3", "echo", make(chan int), "")
	assert.Error(t, err)
}

func TestFrameDecodeResponse(t *testing.T) {
	var f Frame
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a-1","response":{"y":2}}`), &f))
	assert.Equal(t, "a-1", f.ID)

	var out struct {
		Y int `json:"y"`
	}
	require.NoError(t, f.DecodeResponse(&out))
	assert.Equal(t, 2, out.Y)
}

func TestFrameDecodeNullResponse(t *testing.T) {
	f := Frame{ID: "a-2", Response: json.RawMessage("null")}
	var out struct {
		Y int `json:"y"`
	}
	require.NoError(t, f.DecodeResponse(&out))
	assert.Zero(t, out.Y)
}
