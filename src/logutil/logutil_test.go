package logutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestNewWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.Debug().Msg("hidden")
	logger.Info().Str("engine", "tesseract").Msg("ready")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "ready", entry["message"])
	assert.Equal(t, "tesseract", entry["engine"])
	assert.Equal(t, "doc-scanner", entry["app"])
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.log")
	w, err := OpenRotating(path, 16)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abcdefghij\n"))
	require.NoError(t, err)

	archived, err := os.ReadFile(archiveName(path, 1))
	require.NoError(t, err)
	assert.Equal(t, "0123456789\n", string(archived))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij\n", string(current))
}

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "********", RedactKey("short"))
	assert.Equal(t, "sk-o...wxyz", RedactKey("sk-or-v1-abcdefghijklmnopqrstuvwxyz"))
}

func TestSanitizeForLogging(t *testing.T) {
	assert.Equal(t, `line1\nline2\tend?`, SanitizeForLogging("line1\nline2\tend\x01"))

	long := strings.Repeat("a", 150)
	got := SanitizeForLogging(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, got, 103)
}

func TestSanitizeForLoggingKeepsRunesWhole(t *testing.T) {
	// 99 ASCII bytes then a two-byte rune straddling the cut.
	text := strings.Repeat("a", 99) + strings.Repeat("é", 10)
	got := SanitizeForLogging(text)

	assert.True(t, utf8.ValidString(got))
	assert.NotContains(t, got, "\uFFFD")
	assert.Equal(t, strings.Repeat("a", 99)+"...", got)
}
