package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "missing.yaml"), "--dir", dir}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_PutGetDel(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "put", "greeting", "hello")
	require.NoError(t, err)

	out, err := run(t, dir, "get", "greeting")
	require.NoError(t, err)
	require.Equal(t, "hello\n", out)

	_, err = run(t, dir, "del", "greeting")
	require.NoError(t, err)

	_, err = run(t, dir, "get", "greeting")
	require.ErrorContains(t, err, "not found")
}

func TestCLI_ScanAndCompact(t *testing.T) {
	dir := t.TempDir()
	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := run(t, dir, "put", k, strings.ToUpper(k))
		require.NoError(t, err)
	}

	out, err := run(t, dir, "scan", "--from", "b", "--to", "c")
	require.NoError(t, err)
	require.Equal(t, "b\tB\nc\tC\n", out)

	out, err = run(t, dir, "scan", "--reverse", "--limit", "2")
	require.NoError(t, err)
	require.Equal(t, "d\tD\nc\tC\n", out)

	_, err = run(t, dir, "compact")
	require.NoError(t, err)

	out, err = run(t, dir, "stats", "--metrics")
	require.NoError(t, err)
	require.Contains(t, out, "tables:           1 [1]")
	require.Contains(t, out, "lsmkv_tables 1")
}

func TestCLI_DumpLoad(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	file := filepath.Join(t.TempDir(), "backup.zst")

	for _, k := range []string{"x", "y", "z"} {
		_, err := run(t, src, "put", k, k+k)
		require.NoError(t, err)
	}
	_, err := run(t, src, "del", "y")
	require.NoError(t, err)

	out, err := run(t, src, "dump", file)
	require.NoError(t, err)
	require.Contains(t, out, "dumped 2 records")

	out, err = run(t, dst, "load", file)
	require.NoError(t, err)
	require.Equal(t, "loaded 2 records\n", out)

	out, err = run(t, dst, "scan")
	require.NoError(t, err)
	require.Equal(t, "x\txx\nz\tzz\n", out)
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := initConfig(filepath.Join(dir, "none.yaml"))
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.Persistence.RootPath)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: WARN\ndb:\n  journal:\n    sync: true\n"), 0o644))
	cfg, err = initConfig(path)
	require.NoError(t, err)
	require.Equal(t, "WARN", cfg.Logger.Level)
	require.True(t, cfg.Journal.Sync)
	require.True(t, cfg.Journal.Enabled)

	require.NoError(t, os.WriteFile(path, []byte("db: [unclosed"), 0o644))
	_, err = initConfig(path)
	require.Error(t, err)
}
