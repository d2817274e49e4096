// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The logger is configured once per process, so all output assertions share
// one sink.
var sink bytes.Buffer

func configureForTest() {
	Configure(Config{Output: &sink, Service: "wavebox-test", Version: "v0.0.0-test"})
}

func lastEntry(t *testing.T) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(sink.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestConfigureIsOnce(t *testing.T) {
	configureForTest()

	// A second Configure must not replace the sink.
	var other bytes.Buffer
	Configure(Config{Output: &other})

	logger := WithComponent("probe")
	logger.Info().Msg("hello")

	assert.Zero(t, other.Len())
	entry := lastEntry(t)
	assert.Equal(t, "wavebox-test", entry["service"])
	assert.Equal(t, "v0.0.0-test", entry["version"])
	assert.Equal(t, "probe", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestFromContextCarriesRequestID(t *testing.T) {
	configureForTest()

	ctx := ContextWithRequestID(context.Background(), "req-456")
	logger := WithComponentFromContext(ctx, "api")
	logger.Info().Msg("tagged")

	entry := lastEntry(t)
	assert.Equal(t, "req-456", entry["request_id"])
	assert.Equal(t, "api", entry["component"])
}

func TestFromContextWithoutRequestID(t *testing.T) {
	configureForTest()

	logger := FromContext(context.Background())
	logger.Info().Msg("plain")

	entry := lastEntry(t)
	assert.Equal(t, "plain", entry["message"])
	assert.NotContains(t, entry, "request_id")
}

func TestBaseCarriesServiceFields(t *testing.T) {
	configureForTest()

	logger := Base()
	logger.Info().Msg("base")

	entry := lastEntry(t)
	assert.Equal(t, "wavebox-test", entry["service"])
	assert.NotContains(t, entry, "component")
}
