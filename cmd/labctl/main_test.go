package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// These tests exercise labctl's flag-parsing and dispatch surface only.
// Anything past flag parsing calls into internal/persistence/columnar,
// which talks to the real HDF5 C library through cgo; HDF5 file I/O is
// not driven from these unit tests.

func TestRun_NoArgsPrintsUsageAndExitsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(nil, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "usage:")
	assert.Empty(t, stdout.String())
}

func TestRun_UnknownSubCommandExitsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"frobnicate"}, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "unknown sub-command")
}

func TestRun_VersionFlagPrintsVersionAndExitsOK(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"--version"}, &stdout, &stderr)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), name)
	assert.Contains(t, stdout.String(), version)
	assert.Empty(t, stderr.String())
}

func TestRunShow_MissingFileFlagExitsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"show"}, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "usage: labctl show")
}

func TestRunShow_NonexistentFileExitsError(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"show", "-file", "/nonexistent/notebook.h5"}, &stdout, &stderr)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "load")
}

func TestRunSelect_MissingFlagsExitUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"select", "-file", "notebook.h5"}, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "usage: labctl select")
}

func TestRunRemove_MissingFlagsExitUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"remove", "-file", "notebook.h5"}, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "usage: labctl remove")
}

func TestRunRemove_NonexistentFileExitsError(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"remove", "-file", "/nonexistent/notebook.h5", "-tag", "baseline"}, &stdout, &stderr)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "load")
}

func TestRunCopy_MissingFlagsExitUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"copy", "-from", "a.h5", "-to", "b.h5"}, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "usage: labctl copy")
}

func TestRunCopy_NonexistentSourceExitsError(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"copy", "-from", "/nonexistent/a.h5", "-to", "/tmp/b.h5", "-tag", "baseline"}, &stdout, &stderr)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "load")
}
