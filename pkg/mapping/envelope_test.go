package mapping_test

import (
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("splits topic and parses payload", func(t *testing.T) {
		env, err := mapping.NewEnvelope("sensors/kitchen/temp", []byte(`{"value": 21.5}`), ts, 1)
		require.NoError(t, err)

		assert.Equal(t, "sensors/kitchen/temp", env.Topic)
		assert.Equal(t, []string{"sensors", "kitchen", "temp"}, env.Segments)
		assert.Equal(t, map[string]any{"value": 21.5}, env.Payload)
		assert.Equal(t, ts, env.Timestamp)
		assert.Equal(t, byte(1), env.QoS)
	})

	t.Run("empty payload is JSON null", func(t *testing.T) {
		env, err := mapping.NewEnvelope("sensors/door", nil, ts, 0)
		require.NoError(t, err)
		assert.Nil(t, env.Payload)
	})

	t.Run("scalar payloads are valid JSON", func(t *testing.T) {
		env, err := mapping.NewEnvelope("sensors/door", []byte(`42`), ts, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(42), env.Payload)
	})

	t.Run("malformed JSON is a ParseError carrying diagnostics", func(t *testing.T) {
		_, err := mapping.NewEnvelope("sensors/door", []byte(`{"value":`), ts, 0)
		require.Error(t, err)

		var parseErr *mapping.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "sensors/door", parseErr.Topic)
		assert.Equal(t, []byte(`{"value":`), parseErr.Payload)
	})

	t.Run("invalid UTF-8 is a ParseError", func(t *testing.T) {
		_, err := mapping.NewEnvelope("sensors/door", []byte{0xff, 0xfe}, ts, 0)
		require.Error(t, err)

		var parseErr *mapping.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.True(t, errors.Is(err, mapping.ErrInvalidUTF8))
	})

	t.Run("document exposes topic payload timestamp and qos", func(t *testing.T) {
		env, err := mapping.NewEnvelope("a/b", []byte(`{"x": 1}`), ts, 2)
		require.NoError(t, err)

		doc, ok := env.Document().(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []any{"a", "b"}, doc["topic"])
		assert.Equal(t, map[string]any{"x": int64(1)}, doc["payload"])
		assert.Equal(t, float64(ts.Unix()), doc["timestamp"])
		assert.Equal(t, int64(2), doc["qos"])
	})
}
