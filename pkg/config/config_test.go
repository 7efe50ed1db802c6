package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbtran/internal/bytesize"
	"github.com/marmos91/smbtran/pkg/transport"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

// isolate points the default config location at an empty directory so the
// developer's own config never leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "nbtcp", cfg.Transport.Family)
	assert.Equal(t, bytesize.MiB, cfg.Transport.SendSize)
	assert.Equal(t, bytesize.MiB, cfg.Transport.ReceiveSize)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 3, cfg.Transport.MaxConsecutiveTimeouts)
	assert.Equal(t, "length24", cfg.Transport.NBT.Variant)
	assert.Equal(t, nbt.DefaultCallingName, cfg.Transport.NBT.CallingName)
	assert.True(t, cfg.Transport.NBT.NoDelay)
	assert.True(t, cfg.Session.Reconnect.Enabled)
	assert.Equal(t, time.Second, cfg.Session.TickInterval)
	assert.Equal(t, 4, cfg.Proxy.Workers)
	assert.Equal(t, DefaultResponderAddress, cfg.Responder.ListenAddress)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nbtcp", cfg.Transport.Family)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
logging:
  level: debug
  format: json
transport:
  send_size: 64KiB
  receive_size: 4096
  timeout: 5s
  qos: 16
  nbt:
    variant: rfc1002
    called_name: "*SMBSERVER"
    no_delay: false
session:
  remote: "10.0.0.5:139"
  reconnect:
    enabled: false
proxy:
  workers: 2
responder:
  listen_address: "127.0.0.1:0"
  names: ["FILESRV", "BACKUP"]
  max_frame_size: 128KiB
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 64*bytesize.KiB, cfg.Transport.SendSize)
	assert.Equal(t, bytesize.ByteSize(4096), cfg.Transport.ReceiveSize)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, uint32(16), cfg.Transport.QoS)
	assert.Equal(t, "rfc1002", cfg.Transport.NBT.Variant)
	assert.Equal(t, "*SMBSERVER", cfg.Transport.NBT.CalledName)
	assert.False(t, cfg.Transport.NBT.NoDelay)
	assert.Equal(t, "10.0.0.5:139", cfg.Session.Remote)
	assert.False(t, cfg.Session.Reconnect.Enabled)
	assert.Equal(t, 2, cfg.Proxy.Workers)
	assert.Equal(t, 64, cfg.Proxy.QueueDepth, "unset keys keep their defaults")
	assert.Equal(t, []string{"FILESRV", "BACKUP"}, cfg.Responder.Names)
	assert.Equal(t, 128*bytesize.KiB, cfg.Responder.MaxFrameSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "transport:\n  timeout: 5s\n")

	t.Setenv("SMBTRAN_TRANSPORT_TIMEOUT", "2s")
	t.Setenv("SMBTRAN_LOGGING_LEVEL", "warn")
	t.Setenv("SMBTRAN_TRANSPORT_NBT_VARIANT", "length17")
	t.Setenv("SMBTRAN_PROXY_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "length17", cfg.Transport.NBT.Variant)
	assert.Equal(t, 8, cfg.Proxy.Workers)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "transport: [unclosed\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_BadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown family", "transport:\n  family: udp\n", "transport.family"},
		{"unknown variant", "transport:\n  nbt:\n    variant: length99\n", "transport.nbt.variant"},
		{"qos out of range", "transport:\n  qos: 300\n", "transport.qos"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"long called name", "transport:\n  nbt:\n    called_name: ABCDEFGHIJKLMNOPQ\n", "transport.nbt.called_name"},
		{"bad remote", "session:\n  remote: nowhere\n", "session.remote"},
		{"bad byte size", "transport:\n  send_size: lots\n", "failed to unmarshal config"},
		{"bad duration", "transport:\n  timeout: soon\n", "failed to unmarshal config"},
		{"metrics without address", "metrics:\n  enabled: true\n  listen_address: \"\"\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(writeConfig(t, tt.content))
			if tt.want == "" {
				// Defaults fill the address back in.
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		assert.NoError(t, Validate(GetDefaultConfig()))
	})

	t.Run("Nil", func(t *testing.T) {
		assert.Error(t, Validate(nil))
	})

	t.Run("ReconnectIntervals", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Session.Reconnect.InitialInterval = 10 * time.Second
		cfg.Session.Reconnect.MaxInterval = time.Second
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_interval")
	})

	t.Run("TelemetryNeedsEndpoint", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telemetry.endpoint")
	})

	t.Run("ListenPortZero", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Responder.ListenAddress = "127.0.0.1:0"
		assert.NoError(t, Validate(cfg))
	})
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "error"
	cfg.Transport.Timeout = 7 * time.Second
	cfg.Proxy.QueueDepth = 3

	ApplyDefaults(cfg)

	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, 7*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 3, cfg.Proxy.QueueDepth)
	assert.Equal(t, 4, cfg.Proxy.Workers)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	isolate(t)

	cfg := GetDefaultConfig()
	cfg.Transport.ReceiveSize = bytesize.ByteSize(nbt.MaxLength17)
	cfg.Transport.NBT.CalledName = "FILESRV"
	cfg.Session.Remote = "192.168.1.10:139"
	cfg.Responder.Names = []string{"FILESRV"}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Transport, loaded.Transport)
	assert.Equal(t, cfg.Session, loaded.Session)
	assert.Equal(t, cfg.Responder, loaded.Responder)
	assert.Equal(t, cfg.Logging, loaded.Logging)
	assert.Equal(t, cfg.ShutdownTimeout, loaded.ShutdownTimeout)
}

func TestConfigDir(t *testing.T) {
	dir := isolate(t)

	assert.Equal(t, filepath.Join(dir, "smbtran"), GetConfigDir())
	assert.Equal(t, filepath.Join(dir, "smbtran", "config.yaml"), GetDefaultConfigPath())
	assert.False(t, DefaultConfigExists())

	require.NoError(t, SaveConfig(GetDefaultConfig(), GetDefaultConfigPath()))
	assert.True(t, DefaultConfigExists())
}

func TestTransportOptions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.NBT.Variant = "rfc1002"
	cfg.Transport.NBT.CalledName = "*SMBSERVER"
	cfg.Transport.SendSize = 64 * bytesize.KiB
	cfg.Transport.QoS = 0x10

	opts, err := cfg.Transport.Options(nil)
	require.NoError(t, err)

	assert.Equal(t, 64*1024, opts.SendSize)
	assert.Equal(t, 1<<20, opts.ReceiveSize)
	assert.Equal(t, uint32(0x10), opts.QoS)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Nil(t, opts.Metrics)

	carrier, ok := opts.Carrier.(nbt.Options)
	require.True(t, ok)
	assert.Equal(t, nbt.Length17, carrier.Variant)
	assert.Equal(t, "*SMBSERVER", carrier.CalledName)
	assert.Equal(t, nbt.DefaultCallingName, carrier.CallingName)
	assert.True(t, carrier.NoDelay)

	cfg.Transport.NBT.Variant = "length99"
	_, err = cfg.Transport.Options(nil)
	assert.Error(t, err)
}

func TestSessionConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	_, err := cfg.SessionConfig("ping", "", nil, nil)
	assert.Error(t, err, "no remote anywhere")

	cfg.Session.Remote = "127.0.0.1:139"
	cfg.Session.Local = "127.0.0.1:0"

	sc, err := cfg.SessionConfig("ping", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ping", sc.Name)
	assert.Equal(t, transport.FamilyNBTCP, sc.Family)
	assert.Equal(t, "127.0.0.1:139", sc.Remote.String())
	assert.Equal(t, "127.0.0.1:0", sc.Local.String())
	assert.Equal(t, cfg.Session.Reconnect, sc.Reconnect)
	assert.Equal(t, time.Second, sc.TickInterval)

	sc, err = cfg.SessionConfig("ping", "127.0.0.1:1139", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1139", sc.Remote.String(), "explicit remote wins")

	_, err = cfg.SessionConfig("ping", "127.0.0.1:notaport", nil, nil)
	assert.Error(t, err)
}

func TestResponderConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.NBT.Variant = "17"
	cfg.Responder.ListenAddress = "127.0.0.1:0"
	cfg.Responder.Names = []string{"FILESRV"}
	cfg.Responder.MaxConnections = 10
	cfg.Responder.IdleTimeout = time.Minute

	rc, err := cfg.ResponderConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", rc.ListenAddress)
	assert.Equal(t, nbt.Length17, rc.Variant)
	assert.Equal(t, []string{"FILESRV"}, rc.Names)
	assert.Equal(t, 10, rc.MaxConnections)
	assert.Equal(t, 0, rc.MaxFrameSize)
	assert.Equal(t, time.Minute, rc.IdleTimeout)
	assert.Equal(t, DefaultShutdownTimeout, rc.ShutdownTimeout)
}

func TestWatch(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	var failures atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path,
			func(c *Config) {
				select {
				case changes <- c:
				default:
				}
			},
			func(error) { failures.Add(1) })
	}()

	// Keep rewriting until the watcher is up and reports the change.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644)
		select {
		case c := <-changes:
			return c.Logging.Level == "DEBUG"
		default:
			return false
		}
	}, 5*time.Second, 250*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("transport:\n  qos: 999\n"), 0644)
		return failures.Load() > 0
	}, 5*time.Second, 250*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_EmptyPath(t *testing.T) {
	assert.Error(t, Watch(context.Background(), "", func(*Config) {}, nil))
}

func TestSchema(t *testing.T) {
	schema := Schema()
	require.NotNil(t, schema)
	assert.Equal(t, "smbtran Configuration", schema.Title)

	transportSchema, ok := schema.Properties.Get("transport")
	require.True(t, ok, "top-level keys use yaml names")

	timeout, ok := transportSchema.Properties.Get("timeout")
	require.True(t, ok)
	assert.Equal(t, "string", timeout.Type)

	sendSize, ok := transportSchema.Properties.Get("send_size")
	require.True(t, ok)
	assert.Len(t, sendSize.OneOf, 2)
}
