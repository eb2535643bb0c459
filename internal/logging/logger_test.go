package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"text info", "info", "text", false},
		{"json debug", "DEBUG", "json", false},
		{"default format", "warn", "", false},
		{"bad level", "verbose", "text", true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewWithOutput(&bytes.Buffer{}, tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput(&buf, "info", "json")
	require.NoError(t, err)

	l.WithField("flight", "airline-0/SU100/1700000000").Info("Flight finalized")
	l.Debug("hidden")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Flight finalized", line["msg"])
	assert.Equal(t, "airline-0/SU100/1700000000", line["flight"])
	assert.Equal(t, "info", line["level"])
}

func TestTemporal(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput(&buf, "debug", "json")
	require.NoError(t, err)

	tl := NewTemporal(l).With("WorkflowID", "flight-status-x")
	tl.Warn("Query timed out", "Nonce", 7, "dangling")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Query timed out", line["msg"])
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "temporal", line["component"])
	assert.Equal(t, "flight-status-x", line["WorkflowID"])
	assert.Equal(t, float64(7), line["Nonce"])
	assert.Equal(t, "dangling", line["extra"])
}

func TestFields(t *testing.T) {
	assert.Equal(t, logrus.Fields{"a": 1, "b": "two"}, fields([]interface{}{"a", 1, "b", "two"}))
	assert.Empty(t, fields(nil))
}
