package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "picochat dev")
}

func TestAskPrintsReply(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"pong"}`))
	}))
	defer backend.Close()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"widget":{"apiUrl":"`+backend.URL+`"}}`), 0644))

	out, err := execute(t, "--config", path, "ask", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "pong")
}

func TestAskFailsOnBackendError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer backend.Close()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"widget":{"apiUrl":"`+backend.URL+`"}}`), 0644))

	out, err := execute(t, "--config", path, "ask", "ping")
	assert.Error(t, err)
	assert.Contains(t, out, "having trouble connecting")
}

func TestAskAcceptsReplyMatchingApologyText(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"Sorry, I'm having trouble connecting right now. Please try again later."}`))
	}))
	defer backend.Close()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"widget":{"apiUrl":"`+backend.URL+`"}}`), 0644))

	out, err := execute(t, "--config", path, "ask", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "having trouble connecting")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picochat.toml")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	assert.FileExists(t, path)

	_, err = execute(t, "--config", path, "config", "init")
	assert.Error(t, err)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "http://localhost:5001/query")
	assert.Contains(t, out, "0.0.0.0:18800")
}
