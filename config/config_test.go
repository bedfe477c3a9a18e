package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	cerrors "github.com/najoast/sngo/errors"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func newTestLoader(vars map[string]string) *Loader {
	l := NewLoader().SetSearchPaths(nil)
	l.lookupEnv = fakeEnv(vars)
	return l
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	require.Equal(t, "sngo-node", config.App.Name)
	require.True(t, config.IsDevelopment())
	require.False(t, config.IsProduction())
	require.True(t, config.IsDebugEnabled())
	require.Equal(t, []string{"127.0.0.1:4000"}, config.Transport.Listen)
	require.Equal(t, 16*1024*1024, config.Transport.MaxFrameSize)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   *errors.Error
	}{
		{"empty name", func(c *Config) { c.App.Name = "" }, ErrInvalidAppName},
		{"environment", func(c *Config) { c.App.Environment = "moon" }, ErrInvalidEnvironment},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalidLogLevel},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidLogFormat},
		{"frame size", func(c *Config) { c.Transport.MaxFrameSize = 0 }, ErrInvalidFrameSize},
		{"backoff", func(c *Config) { c.Transport.AcceptBackoff.Max = time.Millisecond }, ErrInvalidBackoff},
		{"mailbox", func(c *Config) { c.Actor.MailboxSize = -1 }, ErrInvalidMailboxSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			require.True(t, tc.want.Equal(err), "got %v", err)
		})
	}
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sngo.yaml", `
app:
  name: edge
  environment: production
transport:
  listen: ["0.0.0.0:4100", "127.0.0.1:0"]
  max_frame_size: 4096
  stop_on_connection_error: true
`)
	config, err := newTestLoader(nil).LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "edge", config.App.Name)
	require.True(t, config.IsProduction())
	require.Equal(t, []string{"0.0.0.0:4100", "127.0.0.1:0"}, config.Transport.Listen)
	require.Equal(t, 4096, config.Transport.MaxFrameSize)
	require.True(t, config.Transport.StopOnConnectionError)

	// untouched sections
	require.Equal(t, "1.0.0", config.App.Version)
	require.Equal(t, 10*time.Second, config.Transport.DialTimeout)
	require.Equal(t, 1000, config.Actor.MailboxSize)
	require.Equal(t, "/metrics", config.Monitor.MetricsPath)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json",
		`{"log": {"level": "debug", "format": "json", "fields": {"zone": "eu"}}}`)
	config, err := newTestLoader(nil).LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, LogLevelDebug, config.Log.Level)
	require.Equal(t, "json", config.Log.Format)
	require.Equal(t, map[string]string{"zone": "eu"}, config.Log.Fields)
	require.Equal(t, "sngo-node", config.App.Name)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	l := newTestLoader(nil)

	_, err := l.LoadFromFile(writeFile(t, dir, "sngo.toml", "a = 1"))
	require.True(t, cerrors.Is(err, ErrUnsupportedFormat))

	_, err = l.LoadFromFile(writeFile(t, dir, "bad.yaml", "app: [unclosed"))
	require.True(t, cerrors.Is(err, ErrConfigParse))

	_, err = l.LoadFromFile(writeFile(t, dir, "invalid.yaml", "log:\n  level: loud\n"))
	require.True(t, cerrors.Is(err, ErrInvalidLogLevel))

	_, err = l.LoadFromFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoadFromReader(t *testing.T) {
	config, err := newTestLoader(nil).LoadFromReader(strings.NewReader("actor:\n  mailbox_size: 8\n"), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, 8, config.Actor.MailboxSize)

	_, err = newTestLoader(nil).LoadFromReader(strings.NewReader("{}"), "ini")
	require.True(t, cerrors.Is(err, ErrUnsupportedFormat))
}

func TestEnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"SNGO_APP_NAME":                 "from-env",
		"SNGO_LOG_LEVEL":                "WARN",
		"SNGO_TRANSPORT_LISTEN":         "127.0.0.1:1, ,127.0.0.1:2",
		"SNGO_TRANSPORT_MAX_FRAME_SIZE": "1024",
		"SNGO_TRANSPORT_DIAL_TIMEOUT":   "250ms",
		"SNGO_MONITOR_ENABLED":          "TRUE",
		"SNGO_MONITOR_ADDRESS":          "", // empty values are ignored
	})
	config, err := l.Load("")
	require.NoError(t, err)
	require.Equal(t, "from-env", config.App.Name)
	require.Equal(t, LogLevelWarn, config.Log.Level)
	require.Equal(t, []string{"127.0.0.1:1", "127.0.0.1:2"}, config.Transport.Listen)
	require.Equal(t, 1024, config.Transport.MaxFrameSize)
	require.Equal(t, 250*time.Millisecond, config.Transport.DialTimeout)
	require.True(t, config.Monitor.Enabled)
	require.Equal(t, "127.0.0.1:9090", config.Monitor.Address)

	// the environment wins over the file
	path := writeFile(t, t.TempDir(), "sngo.yaml", "app:\n  name: from-file\n")
	config, err = l.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", config.App.Name)
}

func TestEnvInvalidValue(t *testing.T) {
	_, err := newTestLoader(map[string]string{"SNGO_TRANSPORT_MAX_FRAME_SIZE": "big"}).Load("")
	require.True(t, cerrors.Is(err, ErrEnvironmentVar))

	_, err = newTestLoader(map[string]string{"SNGO_TRANSPORT_DIAL_TIMEOUT": "soon"}).Load("")
	require.True(t, cerrors.Is(err, ErrEnvironmentVar))

	l := newTestLoader(map[string]string{"APP_NAME_X_APP_NAME": "prefixed"}).SetEnvPrefix("APP_NAME_X")
	config, err := l.Load("")
	require.NoError(t, err)
	require.Equal(t, "prefixed", config.App.Name)
}

func TestDefaultsAreCopied(t *testing.T) {
	l := newTestLoader(nil)
	first, err := l.Load("")
	require.NoError(t, err)
	first.Transport.Listen[0] = "changed"

	second, err := l.Load("")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4000", second.Transport.Listen[0])
}

func TestAutoLoad(t *testing.T) {
	empty := t.TempDir()
	config, err := newTestLoader(nil).SetSearchPaths([]string{empty}).AutoLoad()
	require.NoError(t, err)
	require.Equal(t, "sngo-node", config.App.Name)

	dir := t.TempDir()
	writeFile(t, dir, "config.yml", "app:\n  name: discovered\n")
	config, err = newTestLoader(nil).SetSearchPaths([]string{empty, dir}).AutoLoad()
	require.NoError(t, err)
	require.Equal(t, "discovered", config.App.Name)
}

func TestWatcherReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sngo.yaml", "log:\n  level: info\n")
	w, err := NewWatcher(path, newTestLoader(nil), WithWatcherLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.Equal(t, LogLevelInfo, w.GetConfig().Log.Level)

	var changes [][2]LogLevel
	w.OnConfigChange(func(oldConfig, newConfig *Config) {
		changes = append(changes, [2]LogLevel{oldConfig.Log.Level, newConfig.Log.Level})
	})
	w.OnConfigChange(func(*Config, *Config) { panic("callback failure") })

	writeFile(t, filepath.Dir(path), "sngo.yaml", "log:\n  level: debug\n")
	require.NoError(t, w.Reload())
	require.Equal(t, LogLevelDebug, w.GetConfig().Log.Level)
	require.Equal(t, [][2]LogLevel{{LogLevelInfo, LogLevelDebug}}, changes)

	// an invalid file keeps the current configuration
	writeFile(t, filepath.Dir(path), "sngo.yaml", "log:\n  level: loud\n")
	require.Error(t, w.Reload())
	require.Equal(t, LogLevelDebug, w.GetConfig().Log.Level)
	require.Len(t, changes, 1)
	require.NoError(t, w.Stop())
}

func TestWatcherFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sngo.yaml", "app:\n  name: before\n")
	w, err := NewWatcher(path, newTestLoader(nil),
		WithWatcherLogger(zaptest.NewLogger(t)), WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var names []string
	w.OnConfigChange(func(_, newConfig *Config) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, newConfig.App.Name)
	})
	require.NoError(t, w.Start())
	defer func() { require.NoError(t, w.Stop()) }()

	// other files in the directory are ignored
	writeFile(t, dir, "other.yaml", "app:\n  name: other\n")
	writeFile(t, dir, "sngo.yaml", "app:\n  name: after\n")

	require.Eventually(t, func() bool {
		return w.GetConfig().App.Name == "after"
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.NotContains(t, names, "other")
}

func TestNewWatcherErrors(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "sngo.ini"), newTestLoader(nil))
	require.True(t, cerrors.Is(err, ErrUnsupportedFormat))

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), newTestLoader(nil))
	require.Error(t, err)
}
