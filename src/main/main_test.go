package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-scanner/src/imagefile"
	"doc-scanner/src/ocr"
)

func TestNormalizeLegacyArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		out  []string
	}{
		{
			name: "Normalizes long single dash flags",
			in:   []string{"doc-scanner", "scan", "-file", "doc.png", "-json"},
			out:  []string{"doc-scanner", "scan", "--file", "doc.png", "--json"},
		},
		{
			name: "Normalizes equals form",
			in:   []string{"doc-scanner", "-lang=eng+fra", "-api-key-path=/tmp/key"},
			out:  []string{"doc-scanner", "--lang=eng+fra", "--api-key-path=/tmp/key"},
		},
		{
			name: "Leaves short and unknown flags unchanged",
			in:   []string{"doc-scanner", "-v", "--copy", "-other"},
			out:  []string{"doc-scanner", "-v", "--copy", "-other"},
		},
		{
			name: "Leaves values that look like flags",
			in:   []string{"doc-scanner", "scan", "--file", "-"},
			out:  []string{"doc-scanner", "scan", "--file", "-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, normalizeLegacyArgs(tt.in))
		})
	}
}

func TestNewRootCmdParsesPersistentFlags(t *testing.T) {
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--engine", "llm", "--lang", "deu", "--api-key-path", "/tmp/key", "-v"}))

	assert.Equal(t, "llm", opts.engine)
	assert.Equal(t, "deu", opts.language)
	assert.Equal(t, "/tmp/key", opts.apiKeyPath)
	assert.True(t, opts.verbose)
}

func TestScanCommandIsRegistered(t *testing.T) {
	cmd := newRootCmd(&mainOptions{})

	scan, _, err := cmd.Find([]string{"scan"})
	require.NoError(t, err)
	assert.Equal(t, "scan", scan.Name())

	for _, name := range []string{"file", "json", "copy", "no-progress"} {
		assert.NotNil(t, scan.Flags().Lookup(name), name)
	}
	assert.NotNil(t, scan.InheritedFlags().Lookup("lang"))
}

func TestScanRequiresFile(t *testing.T) {
	cmd := newRootCmd(&mainOptions{})
	cmd.SetArgs([]string{"scan"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"file" not set`)
}

type pingEngine struct{ err error }

func (pingEngine) Name() string { return "remote" }

func (pingEngine) Recognize(context.Context, *imagefile.Image, string, ocr.ProgressFunc) (ocr.Result, error) {
	return ocr.Result{}, nil
}

func (e pingEngine) Ping(ctx context.Context) error { return e.err }

func TestCheckEngine(t *testing.T) {
	require.NoError(t, checkEngine(context.Background(), pingEngine{}))

	cause := errors.New("401 invalid key")
	err := checkEngine(context.Background(), pingEngine{err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "remote engine unavailable")
}

func TestIsTerminalRejectsDevicesAndPipes(t *testing.T) {
	devNull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer devNull.Close()
	assert.False(t, isTerminal(devNull), "a character device is not necessarily a terminal")

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()
	assert.False(t, isTerminal(w))
}
