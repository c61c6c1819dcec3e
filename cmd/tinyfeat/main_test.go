package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/operations"
)

var handleRe = regexp.MustCompile(`snapshot ([0-9A-Z]{26})`)

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf("store:\n  path: %s\nsync:\n  remote_path: %s\nlog:\n  level: error\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "remote.db"))
	path := filepath.Join(dir, "tinyfeat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &cli{t: t, config: path}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", c.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("tinyfeat %v: %v", args, err)
	}
	return out
}

func handleOf(t *testing.T, out string) string {
	t.Helper()
	m := handleRe.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no snapshot handle in output %q", out)
	}
	return m[1]
}

func writeSeries(t *testing.T, dir string) string {
	t.Helper()
	series := `[
		{"id": 1, "name": "ramp.dat", "keywords": ["trend"], "data": [1, 2, 3, 4, 5, 6, 7, 8, 9, 10]},
		{"id": 2, "name": "sine.dat", "keywords": ["periodic"], "data": [0, 1, 0, -1, 0, 1, 0, -1, 0, 1, 0, -1]},
		{"id": 3, "name": "short.dat", "data": [4]}
	]`
	path := filepath.Join(dir, "series.json")
	require.NoError(t, os.WriteFile(path, []byte(series), 0o644))
	return path
}

func summaryOf(t *testing.T, out string) matrix.Summary {
	t.Helper()
	var s matrix.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	return s
}

func TestCLI_Workflow(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()

	h := handleOf(t, c.mustRun("init", "--series", writeSeries(t, dir)))

	s := summaryOf(t, c.mustRun("inspect", h))
	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, s.Cells, s.Pending)

	out := c.mustRun("compute", h, "--workers", "2")
	assert.Contains(t, out, fmt.Sprintf("%d of %d cells computed", s.Cells, s.Cells))

	s = summaryOf(t, c.mustRun("inspect", h))
	assert.True(t, s.Done(), "cells left pending after compute: %d", s.Pending)
	assert.Positive(t, s.Good)
	// The single-point series cannot satisfy most operations.
	assert.Positive(t, s.Errors)

	csvPath := filepath.Join(dir, "out.csv")
	c.mustRun("export", h, csvPath, "--format", "csv")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("ts_id,ts_name,")))

	jsonPath := filepath.Join(dir, "out.json")
	c.mustRun("export", h, jsonPath)
	imported := handleOf(t, c.mustRun("import", jsonPath))
	is := summaryOf(t, c.mustRun("inspect", imported))
	assert.Equal(t, s.Fingerprint, is.Fingerprint)
	assert.Equal(t, s.Good, is.Good)
	assert.Equal(t, s.Errors, is.Errors)

	merged := handleOf(t, c.mustRun("merge", h, imported))
	ms := summaryOf(t, c.mustRun("inspect", merged))
	assert.Equal(t, 3, ms.Rows)
	assert.Equal(t, s.Good, ms.Good)

	c.mustRun("remote-init", h)
	out = c.mustRun("sync", h, "--mode", "null")
	assert.Contains(t, out, strconv.Itoa(s.Good)+" written")

	// Nothing left to fill on a second pass.
	out = c.mustRun("sync", h)
	assert.Contains(t, out, "0 written")

	out = c.mustRun("list")
	assert.Contains(t, out, h)
	assert.Contains(t, out, merged)

	// Once a series is gone remotely the id sets no longer agree.
	out = c.mustRun("remote-delete", "--rows", "3")
	assert.Contains(t, out, "1 time series deleted")
	_, err = c.run("sync", h)
	assert.Error(t, err)

	_, err = c.run("remote-delete")
	assert.Error(t, err, "--rows is required")
}

func TestCLI_SubsetAndClear(t *testing.T) {
	c := newCLI(t)
	h := handleOf(t, c.mustRun("init", "--series", writeSeries(t, t.TempDir()), "--keyword", "periodic"))
	c.mustRun("compute", h)

	sub := handleOf(t, c.mustRun("subset", h, "--cols", "1,2"))
	s := summaryOf(t, c.mustRun("inspect", sub))
	assert.Equal(t, 1, s.Rows)
	assert.Equal(t, 2, s.Columns)

	dropped := handleOf(t, c.mustRun("subset", h, "--drop-cols", "1,2,3"))
	ds := summaryOf(t, c.mustRun("inspect", dropped))
	assert.Equal(t, 1, ds.Rows)
	assert.Equal(t, len(operations.Columns(1))-3, ds.Columns)
	for _, col := range ds.ColumnStats {
		assert.NotContains(t, []int64{1, 2, 3}, col.ID)
	}

	_, err := c.run("subset", h, "--drop-rows", "99")
	assert.Error(t, err)

	out := c.mustRun("clear", h, "--cols", "1")
	assert.Contains(t, out, "1 cells cleared")
	assert.Equal(t, 1, summaryOf(t, c.mustRun("inspect", h)).Pending)
}

func TestCLI_Operations(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("operations")
	assert.Contains(t, out, "1:")
	assert.Contains(t, out, fmt.Sprintf("%d columns", len(operations.Columns(1))))
}

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("inspect", "not-a-handle")
	assert.Error(t, err)

	_, err = c.run("init")
	assert.Error(t, err, "--series is required")

	h := handleOf(t, c.mustRun("init", "--series", writeSeries(t, t.TempDir())))
	_, err = c.run("compute", h, "--which", "sometimes")
	assert.Error(t, err)

	_, err = c.run("sync", h, "--mode", "always")
	assert.Error(t, err)

	// The remote was never seeded, so the identity check fails.
	_, err = c.run("sync", h)
	assert.Error(t, err)
}
