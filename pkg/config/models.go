package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Secure bool   `mapstructure:"secure"`
}

// SocketURL builds the websocket endpoint. The scheme follows the Secure
// flag so a TLS deployment talks wss while local dev talks ws.
func (s ServerConfig) SocketURL() string {
	scheme := "ws"
	if s.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, s.Host)
}

// BaseURL builds the REST endpoint of the chat directory service.
func (s ServerConfig) BaseURL() string {
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Host)
}

type TransportConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshakeTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	ReconnectCooldown time.Duration `mapstructure:"reconnectCooldown"`
}

type SyncConfig struct {
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	HistoryLimit      int           `mapstructure:"historyLimit"`
	FingerprintWindow time.Duration `mapstructure:"fingerprintWindow"`
}

type CacheConfig struct {
	Path string `mapstructure:"path"`
}
