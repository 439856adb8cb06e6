package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***7890", RedactPhone("+6281234567890"))
	assert.Equal(t, "***", RedactPhone("123"))
}

func TestLogger_RedactsRecipientFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG, true).With("tenant_id", "t-1")

	l.Info("complaint received", "recipient", "+6281234567890", "note", "from owner@example.com")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "t-1", entry["tenant_id"])
	assert.Equal(t, "***7890", entry["recipient"])
	assert.Equal(t, "from ow***@example.com", entry["note"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN, false)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept", "score", 12.5)
	assert.Contains(t, buf.String(), `"score":"12.5"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}
