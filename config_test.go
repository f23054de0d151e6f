package minnow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minnow.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "server_name: chat.example\n"))
		require.NoError(t, err)
		assert.Equal(t, "chat.example", cfg.ServerName)
		assert.Equal(t, "0.0.0.0:7266", cfg.Addr())
		assert.Equal(t, "binary", cfg.Dialect)
		assert.Equal(t, "memory", cfg.StoreBackend)
		assert.Equal(t, "motd.txt", cfg.MOTDPath)

		level, err := cfg.Level()
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, level)
	})

	t.Run("full config", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, `
server_name: chat.example
listen_addr: 127.0.0.1
listen_port: 9999
server_password: sesame
log_level: debug
dialect: json
store_backend: disk
store_path: /var/lib/minnow
metrics_addr: :2112
`))
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9999", cfg.Addr())
		assert.Equal(t, "sesame", cfg.ServerPassword)
		assert.Equal(t, "json", cfg.Dialect)
		assert.Equal(t, "disk", cfg.StoreBackend)
		assert.Equal(t, "/var/lib/minnow", cfg.StorePath)

		level, err := cfg.Level()
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, level)
	})

	t.Run("server name required", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "listen_port: 9999\n"))
		require.Error(t, err)
	})

	t.Run("unknown keys rejected", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "server_name: x\nbogus_key: 1\n"))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
		require.Error(t, err)
	})

	t.Run("bad log level reported by Level", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "server_name: x\nlog_level: shouty\n"))
		require.NoError(t, err)
		_, err = cfg.Level()
		require.Error(t, err)
	})
}
