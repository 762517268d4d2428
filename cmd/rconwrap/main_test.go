package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/guseggert/rconwrap/internal/netutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type run struct {
	console  bytes.Buffer
	errs     bytes.Buffer
	rawLog   string
	err      error
	exitCode int
}

func runApp(t *testing.T, command ...string) *run {
	port, err := netutil.FreePort()
	require.NoError(t, err)
	dir := t.TempDir()

	r := &run{rawLog: filepath.Join(dir, "console.log")}
	app := newApp()
	app.Writer = &r.console
	app.ErrWriter = &r.errs
	app.Reader = strings.NewReader("")
	app.ExitErrHandler = func(*cli.Context, error) {}

	args := []string{
		"rconwrap",
		"--console-log", r.rawLog,
		"--latest-log", filepath.Join(dir, "latest.log"),
		"--rcon-host", "127.0.0.1",
		"--rcon-port", strconv.Itoa(port),
		"--error-retry", "50ms",
		"--log-level", "error",
	}
	if len(command) > 0 {
		args = append(append(args, "--"), command...)
	}
	r.err = app.Run(args)

	var exitErr cli.ExitCoder
	if errors.As(r.err, &exitErr) {
		r.exitCode = exitErr.ExitCode()
	}
	return r
}

func TestRunExitsWithChildCode(t *testing.T) {
	r := runApp(t, "echo", "hi;", "exit", "3")
	require.Error(t, r.err)
	assert.Equal(t, 3, r.exitCode)

	console := r.console.String()
	assert.True(t, strings.HasPrefix(console, "Log file cleared.\nStarting Rust...\n"), console)
	assert.Contains(t, console, "hi\n")
	assert.True(t, strings.HasSuffix(console, "Rust process exited with code 3.\nCleaning up...\n"), console)

	raw, err := os.ReadFile(r.rawLog)
	require.NoError(t, err)
	assert.Equal(t, "hi\nRust process exited with code 3.\n", string(raw))
}

func TestRunCleanExit(t *testing.T) {
	r := runApp(t, "true")
	require.NoError(t, r.err)
	assert.True(t, strings.HasSuffix(r.console.String(), "Rust process exited.\nCleaning up...\n"))
}

func TestRunWithoutCommand(t *testing.T) {
	r := runApp(t)
	require.Error(t, r.err)
	assert.Equal(t, 1, r.exitCode)
	assert.Equal(t, "Error: Please specify a startup command.", r.err.Error())
	// Logs are cleared before the command is checked, and no child means no cleanup.
	assert.Equal(t, "Log file cleared.\n", r.console.String())
}

func TestRunBadLogPath(t *testing.T) {
	app := newApp()
	var console bytes.Buffer
	app.Writer = &console
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"rconwrap", "--console-log", filepath.Join(t.TempDir(), "missing", "console.log"), "--", "true"})
	var exitErr cli.ExitCoder
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Empty(t, console.String())
}
