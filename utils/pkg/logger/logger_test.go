package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSON_DropsEmptyStrings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithOptions(Options{Format: FormatJSON, Writer: &buf})
	log.Info("orchestrator: offer made", "offer", "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", "journal", "")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "orchestrator: offer made", rec["msg"])
	assert.Equal(t, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", rec["offer"])
	assert.NotContains(t, rec, "journal")

	ts, ok := rec["time"].(string)
	require.True(t, ok)
	_, err := time.Parse("2006-01-02T15:04:05.000Z", ts)
	assert.NoError(t, err)
}

func TestLogger_Verbose_EnablesDebug(t *testing.T) {
	t.Parallel()

	var quiet, loud bytes.Buffer
	NewWithOptions(Options{Format: FormatJSON, Writer: &quiet}).Debug("hidden")
	NewWithOptions(Options{Format: FormatJSON, Writer: &loud, Verbose: true}).Debug("shown")

	assert.Empty(t, quiet.String())
	assert.Contains(t, loud.String(), "shown")
}

func TestLogger_ParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestLogger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 30, 45, 123_456_789, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-03-01T11:30:45.123Z", formatRFC3339Millis(ts))
}
