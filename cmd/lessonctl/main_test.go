package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestCursorCommands(t *testing.T) {
	state := []string{"--backend", "file", "--state", filepath.Join(t.TempDir(), "state.json")}

	assert.Contains(t, run(t, append([]string{"cursor"}, state...)...), "cursor 0")
	assert.Contains(t, run(t, append([]string{"cursor", "set", "7"}, state...)...), "cursor set to 7")
	assert.Contains(t, run(t, append([]string{"cursor"}, state...)...), "cursor 7")
}

func TestStatsResetAndGroup(t *testing.T) {
	state := []string{"--backend", "sqlite", "--state", filepath.Join(t.TempDir(), "tutor.db")}

	out := run(t, append([]string{"stats", "u1"}, state...)...)
	assert.Contains(t, out, `"user_id": "u1"`)
	assert.Contains(t, out, `"current_lesson": 0`)

	assert.Contains(t, run(t, append([]string{"reset", "u1"}, state...)...), "reset u1")

	out = run(t, append([]string{"group"}, state...)...)
	assert.Contains(t, out, `"user_count": 1`)
}

func TestLessonPreview(t *testing.T) {
	out := run(t, "lesson", "6")
	assert.Contains(t, out, `"track": "javascript"`)
	assert.Contains(t, out, `"lesson_index": 6`)

	out = run(t, "lesson", "0", "--render")
	assert.Contains(t, out, "Сдаём ДЗ")
}

func TestRejectsBadArguments(t *testing.T) {
	for _, args := range [][]string{
		{"lesson", "-1"},
		{"lesson", "x"},
		{"cursor", "set", "-3", "--backend", "file", "--state", filepath.Join(t.TempDir(), "s.json")},
		{"stats"},
	} {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), args)
	}
}
