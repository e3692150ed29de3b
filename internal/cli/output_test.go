package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("publish_failed", "store unreachable", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "publish_failed", resp.Error.Code)
	assert.Equal(t, "store unreachable", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("published tab_visible")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "published tab_visible")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("publish_failed", "store unreachable", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [publish_failed]")
	assert.Contains(t, buf.String(), "store unreachable")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"backend": "redis"}
	err := formatter.Error("publish_failed", "store unreachable", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [publish_failed]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("watching key %s", "tabsync:events")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "watching key tabsync:events")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   true,
	}

	formatter.VerboseLog("diagnostic")
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "diagnostic")
}

func TestExitError(t *testing.T) {
	base := errors.New("connection refused")
	err := WrapExitError(ExitCommandError, "failed to open shared store", base)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open shared store")
	assert.ErrorIs(t, err, base)

	plain := NewExitError(ExitFailure, "publish failed")
	assert.Equal(t, ExitFailure, GetExitCode(plain))
	assert.Equal(t, "publish failed", plain.Error())

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("untyped")))
}
