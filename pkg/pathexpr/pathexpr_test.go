package pathexpr_test

import (
	"testing"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/pathexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Run("plain strings compile as literals", func(t *testing.T) {
		expr, err := pathexpr.Compile("temperature")
		require.NoError(t, err)
		assert.True(t, expr.IsLiteral())
	})

	t.Run("dollar prefix compiles as a path", func(t *testing.T) {
		expr, err := pathexpr.Compile("$.payload.value")
		require.NoError(t, err)
		assert.False(t, expr.IsLiteral())
	})

	t.Run("malformed path is a compile error", func(t *testing.T) {
		_, err := pathexpr.Compile("$.payload[")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid path expression")
	})
}

func TestEvaluate(t *testing.T) {
	doc := map[string]any{
		"topic":   []any{"sensors", "kitchen", "temp"},
		"payload": map[string]any{"value": 21.5, "empty": nil},
		"qos":     int64(1),
	}

	t.Run("literal evaluates to itself regardless of document", func(t *testing.T) {
		expr, err := pathexpr.Compile("temperature")
		require.NoError(t, err)

		for _, d := range []any{doc, nil, "something else entirely"} {
			v, ok := expr.Evaluate(d)
			assert.True(t, ok)
			assert.Equal(t, "temperature", v)
		}
	})

	t.Run("path selects nested values", func(t *testing.T) {
		expr, err := pathexpr.Compile("$.payload.value")
		require.NoError(t, err)

		v, ok := expr.Evaluate(doc)
		require.True(t, ok)
		assert.Equal(t, 21.5, v)
	})

	t.Run("path selects topic segments by index", func(t *testing.T) {
		expr, err := pathexpr.Compile("$.topic[1]")
		require.NoError(t, err)

		v, ok := expr.Evaluate(doc)
		require.True(t, ok)
		assert.Equal(t, "kitchen", v)
	})

	t.Run("missing path yields no value", func(t *testing.T) {
		expr, err := pathexpr.Compile("$.payload.missing")
		require.NoError(t, err)

		_, ok := expr.Evaluate(doc)
		assert.False(t, ok)
	})

	t.Run("null match yields no value", func(t *testing.T) {
		expr, err := pathexpr.Compile("$.payload.empty")
		require.NoError(t, err)

		_, ok := expr.Evaluate(doc)
		assert.False(t, ok)
	})

	t.Run("path over nil document yields no value", func(t *testing.T) {
		expr, err := pathexpr.Compile("$.payload.value")
		require.NoError(t, err)

		_, ok := expr.Evaluate(nil)
		assert.False(t, ok)
	})
}
