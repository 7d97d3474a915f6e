package analytics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/invasions/pkg/schema"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestEncodeDecode(t *testing.T) {
	ev := NewEvent(schema.EventEntitiesListed, map[string]any{"kind": "city", "count": 2}, fixedNow)
	payload, err := Encode(ev)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"timestamp":"2024-05-01T12:00:00Z"`)

	got, err := Decode(payload, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.Type, got.Type)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))
	// JSON numbers decode as float64.
	assert.Equal(t, 2.0, got.Data["count"])
}

func TestDecodeLegacyEvent(t *testing.T) {
	payload := []byte(`{"type":"cities_listed","data":{"count":4},"timestamp":"2024-05-01T10:15:30.123456"}`)

	ev, err := Decode(payload, fixedNow)
	require.NoError(t, err)

	_, err = uuid.Parse(ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, schema.EventType("cities_listed"), ev.Type)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 30, 123456000, time.UTC), ev.Timestamp)
}

func TestDecodeTimestampLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T10:15:30Z", time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"2024-05-01T12:15:30+02:00", time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"2024-05-01T10:15:30", time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"2024-05-01 10:15:30", time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ev, err := Decode([]byte(`{"type":"x","timestamp":"`+tt.in+`"}`), fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Timestamp)
		})
	}
}

func TestDecodeDefaults(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"entities_listed"}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.NotNil(t, ev.Data)
	assert.NotEmpty(t, ev.ID)
}

func TestDecodeMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":      `{oops`,
		"missing type":  `{"data":{}}`,
		"bad id":        `{"id":"nope","type":"x"}`,
		"bad timestamp": `{"type":"x","timestamp":"yesterday"}`,
		"data not map":  `{"type":"x","data":[1,2]}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload), fixedNow)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestEncodeRequiresType(t *testing.T) {
	_, err := Encode(schema.AnalyticsEvent{})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
