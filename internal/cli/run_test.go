package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/Paintersrp/sigrt/internal/cliutil"
)

func TestRunReportsEachChild(t *testing.T) {
	root, _ := newMemoryRoot(t)

	stdout, stderr, err := execute(root, "run", "--json", "-x", "true", "--", "sh", "-c", "exit 3")
	var exitErr *exitError
	assert.Assert(t, errors.As(err, &exitErr), "stderr: %s", stderr)
	assert.Equal(t, exitErr.code, 3)

	records := map[string]cliutil.WaitRecord{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		var rec cliutil.WaitRecord
		assert.NilError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records[rec.Command] = rec
	}
	assert.Equal(t, len(records), 2, stdout)

	failed := records["sh -c exit 3"]
	assert.Assert(t, failed.ExitCode != nil)
	assert.Equal(t, *failed.ExitCode, 3)
	assert.Equal(t, failed.Level, "warn")

	ok := records["true"]
	assert.Assert(t, ok.ExitCode != nil)
	assert.Equal(t, *ok.ExitCode, 0)
	assert.Equal(t, ok.Level, "info")
}

func TestRunReportsSignalledChild(t *testing.T) {
	root, _ := newMemoryRoot(t)

	stdout, _, err := execute(root, "run", "--", "sh", "-c", "kill -TERM $$")
	var exitErr *exitError
	assert.Assert(t, errors.As(err, &exitErr))
	assert.Equal(t, exitErr.code, 128+15)
	assert.Assert(t, is.Contains(stdout, "killed by SIGTERM"))
}

func TestRunPassesEnvironment(t *testing.T) {
	root, _ := newMemoryRoot(t)

	stdout, _, err := execute(root, "run", "--inherit-output", "-e", "GREETING=hello", "--", "sh", "-c", "echo $GREETING")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(stdout, "hello\n"))
	assert.Assert(t, is.Contains(stdout, "exited 0"))
}

func TestRunValidatesArguments(t *testing.T) {
	root, _ := newMemoryRoot(t)
	_, _, err := execute(root, "run")
	assert.ErrorContains(t, err, "at least one command")

	root, _ = newMemoryRoot(t)
	_, _, err = execute(root, "run", "-e", "NOEQUALS", "--", "true")
	assert.ErrorContains(t, err, "expected KEY=VALUE")
}
