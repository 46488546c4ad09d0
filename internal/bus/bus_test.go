package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "changes:acme", Channel("acme"))
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()

	event := Event{
		Action:         "toggled",
		FlagKey:        "checkout",
		EnvironmentKey: "production",
		Enabled:        true,
		Timestamp:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := event.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	t.Parallel()
	_, err := DecodeEvent([]byte(`{broken`))
	assert.Error(t, err)
}
