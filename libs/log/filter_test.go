package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsnet/hls-core/libs/log"
)

func TestVariousLevels(t *testing.T) {
	testCases := []struct {
		name    string
		allowed log.Option
		want    []string
	}{
		{"AllowAll", log.AllowAll(), []string{"here", "now", "hello", "oops"}},
		{"AllowDebug", log.AllowDebug(), []string{"now", "hello", "oops"}},
		{"AllowInfo", log.AllowInfo(), []string{"hello", "oops"}},
		{"AllowError", log.AllowError(), []string{"oops"}},
		{"AllowNone", log.AllowNone(), nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := log.NewFilter(log.NewTMJSONLogger(&buf), tc.allowed)

			logger.Trace("here", "this is", "trace log")
			logger.Debug("now", "foo", "bar")
			logger.Info("hello", "foo", "bar")
			logger.Error("oops", "foo", "bar")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(tc.want) == 0 {
				assert.Empty(t, strings.TrimSpace(buf.String()))
				return
			}
			require.Len(t, lines, len(tc.want))
			for i, msg := range tc.want {
				assert.Contains(t, lines[i], `"_msg":"`+msg+`"`)
			}
		})
	}
}

func TestLevelContext(t *testing.T) {
	var buf bytes.Buffer

	logger := log.NewFilter(log.NewTMJSONLogger(&buf), log.AllowError())
	logger = logger.With("context", "value")

	logger.Error("foo", "bar", "baz")
	assert.Contains(t, buf.String(), `"context":"value"`)

	buf.Reset()
	logger.Info("foo", "bar", "baz")
	assert.Empty(t, buf.String())
}

func TestAllowLevel(t *testing.T) {
	for _, lvl := range []string{"trace", "debug", "info", "error", "none"} {
		_, err := log.AllowLevel(lvl)
		assert.NoError(t, err, lvl)
	}
	_, err := log.AllowLevel("loud")
	assert.Error(t, err)
}
