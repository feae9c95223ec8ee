package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/iq-capture/internal/iq"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "tcp://127.0.0.1:55555", config.Endpoints.RX)
	assert.Equal(t, "tcp://127.0.0.1:55556", config.Endpoints.TX)
	assert.Equal(t, "tcp://127.0.0.1:55557", config.Endpoints.Control)
	assert.Empty(t, config.Endpoints.Intake)
	assert.Equal(t, iq.DefaultTopics(), config.Topics)
	assert.Equal(t, 3*time.Second, config.Timeouts.Control.Std())
	assert.Equal(t, 500*time.Millisecond, config.Timeouts.Poll.Std())
	assert.Equal(t, time.Second, config.Timeouts.Settle.Std())
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
endpoints:
  rx: tcp://10.0.0.5:6000
  intake: tcp://127.0.0.1:55558
topics:
  tx: tx_samples
storage:
  dataDirectory: /var/lib/iq
  flushFrames: 8
timeouts:
  control: 1500ms
  join: 5s
metrics:
  address: 127.0.0.1:9100
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	level, err := config.Settings.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	assert.Equal(t, "tcp://10.0.0.5:6000", config.Endpoints.RX)
	assert.Equal(t, "tcp://127.0.0.1:55556", config.Endpoints.TX, "unset keys keep their default")
	assert.Equal(t, "tcp://127.0.0.1:55558", config.Endpoints.Intake)
	assert.Equal(t, iq.Topics{RX: iq.TopicRX, TX: "tx_samples"}, config.Topics)
	assert.Equal(t, "/var/lib/iq", config.Storage.DataDirectory)
	assert.Equal(t, "iq_session", config.Storage.FilePrefix)
	assert.Equal(t, 8, config.Storage.FlushFrames)
	assert.Equal(t, 1500*time.Millisecond, config.Timeouts.Control.Std())
	assert.Equal(t, 5*time.Second, config.Timeouts.Join.Std())
	assert.Equal(t, "127.0.0.1:9100", config.Metrics.Address)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"log level", "settings:\n  logLevel: loud\n", "invalid log level"},
		{"endpoint", "endpoints:\n  control: 127.0.0.1:55557\n", "endpoints.control"},
		{"same topics", "topics:\n  rx: s\n  tx: s\n", "must differ"},
		{"token topic", "topics:\n  rx: new\n", "session tokens"},
		{"duration", "timeouts:\n  poll: soon\n", "failed to parse"},
		{"negative duration", "timeouts:\n  join: -1s\n", "timeouts.join"},
		{"flush", "storage:\n  flushFrames: -2\n", "flushFrames"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(TimeoutsConfig{Poll: Duration(500 * time.Millisecond), Control: Duration(3 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "poll: 500ms")
	assert.Contains(t, string(out), "control: 3s")
}

func TestSettings_Level(t *testing.T) {
	level, err := Settings{}.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	level, err = Settings{LogLevel: "WARN"}.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = Settings{LogLevel: "chatty"}.Level()
	assert.ErrorContains(t, err, "invalid log level 'chatty'")
}
