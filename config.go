package minnow

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// Config is the static configuration surface. There is no CLI beyond
// pointing the binary at a config file.
type Config struct {
	ServerName     string `yaml:"server_name"`
	ListenAddr     string `yaml:"listen_addr"`
	ListenPort     int    `yaml:"listen_port"`
	ServerPassword string `yaml:"server_password"`
	TLSCertPath    string `yaml:"tls_cert_path"`
	TLSKeyPath     string `yaml:"tls_key_path"`
	LogLevel       string `yaml:"log_level"`
	Dialect        string `yaml:"dialect"`
	MOTDPath       string `yaml:"motd_path"`
	StoreBackend   string `yaml:"store_backend"`
	StorePath      string `yaml:"store_path"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if cfg.ServerName == "" {
		return nil, fmt.Errorf("config: server_name is required")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0"
	}
	if c.ListenPort == 0 {
		c.ListenPort = 7266
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Dialect == "" {
		c.Dialect = "binary"
	}
	if c.MOTDPath == "" {
		c.MOTDPath = "motd.txt"
	}
	if c.StoreBackend == "" {
		c.StoreBackend = "memory"
	}
}

// Addr is the acceptor binding.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.ListenPort))
}

// Level parses the configured minimum log severity.
func (c *Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(c.LogLevel)
}

// TLSConfig builds the listener TLS configuration: TLS 1.2 or newer only.
// Go's TLS stack never enables compression and negotiates ephemeral ECDHE
// key exchange, which covers the rest of the transport requirements.
func (c *Config) TLSConfig() (*tls.Config, error) {
	key := c.TLSKeyPath
	if key == "" {
		// Combined cert+key chain in a single PEM.
		key = c.TLSCertPath
	}
	cert, err := tls.LoadX509KeyPair(c.TLSCertPath, key)
	if err != nil {
		return nil, fmt.Errorf("config: load cert. err=%w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
