package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fjl/dgramftp/fileserver"
	"github.com/fjl/dgramftp/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsage(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"-c", "-s"},
		{"-x"},
		{"-c", "extra"},
		{"-s", "-idle-timeout", "-1s"},
		{"-s", "-idle-timeout", "soon"},
	} {
		var stderr bytes.Buffer
		code := run(args, strings.NewReader(""), new(bytes.Buffer), &stderr)
		assert.Equal(t, exitUsage, code, "args %q", args)
		assert.Contains(t, stderr.String(), "Usage: dgramftp", "args %q", args)
	}
}

func TestClient(t *testing.T) {
	h, err := host.Listen(host.ConfigForTesting)
	require.NoError(t, err)
	cfg := fileserver.ConfigForTesting
	cfg.Root = t.TempDir()
	srv, err := fileserver.NewServer(h, cfg)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"-c", "-addr", h.Addr().String(), "-verbosity", "0", "-idle-timeout", "5s"}, strings.NewReader("put "+src+"\nexit\n"), &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Connected to")
	assert.Contains(t, stdout.String(), "sent "+src)

	got, err := os.ReadFile(filepath.Join(cfg.Root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestClientConnectFails(t *testing.T) {
	// Reserve a port and close it so nothing is listening there.
	h, err := host.Listen(host.ConfigForTesting)
	require.NoError(t, err)
	addr := h.Addr().String()
	h.Close()

	var stderr bytes.Buffer
	code := run([]string{"-c", "-addr", addr, "-verbosity", "0"}, strings.NewReader(""), new(bytes.Buffer), &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "can't connect")
}
