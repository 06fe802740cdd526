package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("WritesFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schema.json")
		var out bytes.Buffer
		require.NoError(t, run([]string{"-o", path}, &out))
		assert.Contains(t, out.String(), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var schema map[string]any
		require.NoError(t, json.Unmarshal(data, &schema))
		assert.Equal(t, "framingd Configuration", schema["title"])

		props, ok := schema["properties"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, props, "logging")
		assert.Contains(t, props, "adapters")
	})

	t.Run("CompactToStdout", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run([]string{"-o", "-", "-indent", "0"}, &out))

		assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("\n")))
		assert.True(t, json.Valid(out.Bytes()))
	})

	t.Run("RejectsPositionalArgs", func(t *testing.T) {
		assert.Error(t, run([]string{"schema.json"}, &bytes.Buffer{}))
	})
}
