package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	BaseURL           string  `yaml:"base_url"`
	SocketPath        string  `yaml:"socket_path"`
	SessionPath       string  `yaml:"session_path"`
	PasswordPath      string  `yaml:"password_path"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Session struct {
	BackoffInitialMs int `yaml:"backoff_initial_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms"`
}

type Notices struct {
	FlushIntervalMs int `yaml:"flush_interval_ms"`
	InboxSize       int `yaml:"inbox_size"`
}

type Outbox struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Log struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type StubUser struct {
	UserName     string   `yaml:"user_name"`
	PasswordHash string   `yaml:"password_hash"` // bcrypt
	Password     string   `yaml:"password"`      // plain, hashed at startup when no hash is given
	Permissions  []string `yaml:"permissions"`   // "Class" or "Class:ACTION"

	MustChangePassword bool `yaml:"must_change_password"`
}

type Stub struct {
	Addr      string     `yaml:"addr"`
	JWTSecret string     `yaml:"jwt_secret"`
	PageSize  int        `yaml:"page_size"`
	Users     []StubUser `yaml:"users"`
}

type Root struct {
	Server      Server  `yaml:"server"`
	Session     Session `yaml:"session"`
	Notices     Notices `yaml:"notices"`
	Outbox      Outbox  `yaml:"outbox"`
	Log         Log     `yaml:"log"`
	Stub        Stub    `yaml:"stub"`
	MetricsAddr string  `yaml:"metrics_addr"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	return c, nil
}

// Default returns the configuration Load would produce from an empty file.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080/api/v2"
	}
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = "/ws"
	}
	if c.Server.SessionPath == "" {
		c.Server.SessionPath = "/auth/session"
	}
	if c.Server.PasswordPath == "" {
		c.Server.PasswordPath = "/auth/password"
	}
	if c.Server.TimeoutMs == 0 {
		c.Server.TimeoutMs = 10000
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = 20
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 10
	}

	if c.Session.BackoffInitialMs == 0 {
		c.Session.BackoffInitialMs = 100
	}
	if c.Session.BackoffMaxMs == 0 {
		c.Session.BackoffMaxMs = 30000
	}

	if c.Notices.FlushIntervalMs == 0 {
		c.Notices.FlushIntervalMs = 2000
	}
	if c.Notices.InboxSize == 0 {
		c.Notices.InboxSize = 1024
	}

	if c.Outbox.Path == "" {
		c.Outbox.Path = "data/outbox.jsonl"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Stub.Addr == "" {
		c.Stub.Addr = ":8080"
	}
	if c.Stub.JWTSecret == "" {
		c.Stub.JWTSecret = "stub-secret-change-me"
	}
	if c.Stub.PageSize == 0 {
		c.Stub.PageSize = 50
	}
}

func (s Server) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func (s Session) BackoffInitial() time.Duration {
	return time.Duration(s.BackoffInitialMs) * time.Millisecond
}

func (s Session) BackoffMax() time.Duration {
	return time.Duration(s.BackoffMaxMs) * time.Millisecond
}

func (n Notices) FlushInterval() time.Duration {
	return time.Duration(n.FlushIntervalMs) * time.Millisecond
}
