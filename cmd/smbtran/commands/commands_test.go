package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

// syncBuffer is a bytes.Buffer safe for a command writing in the background.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testConfig isolates the default config location and writes a config that
// keeps sessions quick to fail.
func testConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: error
transport:
  timeout: 2s
session:
  reconnect:
    enabled: false
`), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out syncBuffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func startResponder(t *testing.T) string {
	t.Helper()
	r := nbt.NewResponder(nbt.ResponderConfig{ListenAddress: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-r.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("responder did not start")
	}
	return r.Addr().String()
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "-o", "json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["Version"])
	assert.NotEmpty(t, info["Go"])
}

func TestTransports(t *testing.T) {
	out, err := run(t, "transports")
	require.NoError(t, err)
	assert.Contains(t, out, "FAMILY")
	assert.Contains(t, out, "nbtcp")

	out, err = run(t, "transports", "-o", "json")
	require.NoError(t, err)
	var infos []transportInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, nbt.Name, infos[0].Name)
	assert.Equal(t, uint8(1), infos[0].Family)
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "smbtran.yaml")

	out, err := run(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)

	out, err = run(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "transport:")
	assert.Contains(t, out, "variant: length24")

	t.Setenv("SMBTRAN_TRANSPORT_TIMEOUT", "5s")
	out, err = run(t, "config", "show", "--config", path, "-o", "json")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Contains(t, shown, "Transport")

	out, err = run(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "session.remote not set")

	schemaPath := filepath.Join(t.TempDir(), "schema.json")
	_, err = run(t, "config", "schema", "--output", schemaPath)
	require.NoError(t, err)
	data, err := os.ReadFile(schemaPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"transport"`)
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  family: carrier-pigeon\n"), 0644))

	_, err := run(t, "config", "validate", "--config", path)
	assert.ErrorContains(t, err, "transport.family")
}

func TestPing(t *testing.T) {
	cfg := testConfig(t)
	addr := startResponder(t)

	out, err := run(t, "ping", addr, "--config", cfg, "-c", "3", "-i", "0", "-o", "json")
	require.NoError(t, err)

	var summary map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "3", summary["Sent"])
	assert.Equal(t, "3", summary["Received"])
	assert.Equal(t, "0.0%", summary["Loss"])

	out, err = run(t, "ping", addr, "--config", cfg, "-c", "2", "-i", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "[ok]")
	assert.Contains(t, out, "seq=2")
}

func TestPingParallel(t *testing.T) {
	cfg := testConfig(t)
	addr := startResponder(t)

	out, err := run(t, "ping", addr, "--config", cfg, "-c", "20", "--parallel", "4", "-s", "512", "-o", "json")
	require.NoError(t, err)

	var summary map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "20", summary["Received"])
}

func TestPingErrors(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, "ping", "--config", cfg)
	assert.ErrorContains(t, err, "no remote address")

	_, err = run(t, "ping", "127.0.0.1:1", "--config", cfg, "-s", "2")
	assert.ErrorContains(t, err, "--size")

	// Nothing listens on port 1; the connect fails without retries.
	_, err = run(t, "ping", "127.0.0.1:1", "--config", cfg, "-c", "1")
	assert.ErrorContains(t, err, "open session")
}

func TestEcho(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"echo", "--config", cfg, "--listen", "127.0.0.1:0", "--no-watch"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	listening := regexp.MustCompile(`listening on (\S+)`)
	var addr string
	require.Eventually(t, func() bool {
		m := listening.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		addr = m[1]
		return true
	}, 5*time.Second, 20*time.Millisecond)

	pingOut, err := run(t, "ping", addr, "--config", cfg, "-c", "2", "-i", "0", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, pingOut, `"Received": "2"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("echo did not stop")
	}
}
