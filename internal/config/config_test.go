package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.UDPPort != 24454 {
		t.Errorf("default udp_port = %d, want 24454", cfg.Server.UDPPort)
	}
	if cfg.Relay.ProximityRadius != 30 {
		t.Errorf("default proximity_radius = %g, want 30", cfg.Relay.ProximityRadius)
	}
	if cfg.Audio.ExpectedLoss != 0.10 {
		t.Errorf("default expected_loss = %g, want 0.10", cfg.Audio.ExpectedLoss)
	}
	if cfg.Relay.IdleTimeout != 60 || cfg.Relay.SweepInterval != 10 {
		t.Errorf("default lifecycle = %d/%d, want 60/10",
			cfg.Relay.IdleTimeout, cfg.Relay.SweepInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no file failed: %v", err)
	}
	if cfg.Server.UDPPort != 24454 {
		t.Errorf("udp_port = %d, want default 24454", cfg.Server.UDPPort)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded for a nonexistent path")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  udp_port: 25565
  workers: 8
relay:
  proximity_radius: 48
  admin_client_id: "a1b2c3d4-e5f6-4789-8abc-def012345678"
audio:
  expected_loss: 0.05
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.UDPPort != 25565 {
		t.Errorf("udp_port = %d, want 25565", cfg.Server.UDPPort)
	}
	if cfg.Server.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Server.Workers)
	}
	if cfg.Relay.ProximityRadius != 48 {
		t.Errorf("proximity_radius = %g, want 48", cfg.Relay.ProximityRadius)
	}
	if cfg.Audio.ExpectedLoss != 0.05 {
		t.Errorf("expected_loss = %g, want 0.05", cfg.Audio.ExpectedLoss)
	}
	// Sections the file omits keep their defaults.
	if cfg.Server.ReadBufferSize != 1048576 {
		t.Errorf("read_buffer_size = %d, want default", cfg.Server.ReadBufferSize)
	}

	id, ok := cfg.Relay.AdminID()
	if !ok || id.String() != "a1b2c3d4-e5f6-4789-8abc-def012345678" {
		t.Errorf("AdminID = (%s, %v)", id, ok)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  udp_port: 25565
`)
	t.Setenv("RELAY_UDP_PORT", "26000")
	t.Setenv("RELAY_PROXIMITY_RADIUS", "12.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.UDPPort != 26000 {
		t.Errorf("udp_port = %d, env override should win over file", cfg.Server.UDPPort)
	}
	if cfg.Relay.ProximityRadius != 12.5 {
		t.Errorf("proximity_radius = %g, want env 12.5", cfg.Relay.ProximityRadius)
	}
}

func TestExpectedLossClamped(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{name: "above cap", in: "0.8", want: 0.20},
		{name: "negative", in: "-0.3", want: 0},
		{name: "in range", in: "0.15", want: 0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, "audio:\n  expected_loss: "+tt.in+"\n")
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("out-of-range expected_loss rejected instead of clamped: %v", err)
			}
			if cfg.Audio.ExpectedLoss != tt.want {
				t.Errorf("expected_loss = %g, want %g", cfg.Audio.ExpectedLoss, tt.want)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "udp port out of range",
			mutate:  func(c *Config) { c.Server.UDPPort = 70000 },
			wantMsg: "udp_port",
		},
		{
			name:    "empty bind address",
			mutate:  func(c *Config) { c.Server.BindAddress = "" },
			wantMsg: "bind_address",
		},
		{
			name:    "tiny read buffer",
			mutate:  func(c *Config) { c.Server.ReadBufferSize = 16 },
			wantMsg: "read_buffer_size",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Server.Workers = 0 },
			wantMsg: "workers",
		},
		{
			name:    "http port zero while enabled",
			mutate:  func(c *Config) { c.HTTP.Port = 0 },
			wantMsg: "port",
		},
		{
			name:    "negative radius",
			mutate:  func(c *Config) { c.Relay.ProximityRadius = -1 },
			wantMsg: "proximity_radius",
		},
		{
			name:    "bad admin id",
			mutate:  func(c *Config) { c.Relay.AdminClientID = "not-a-uuid" },
			wantMsg: "admin_client_id",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantMsg: "level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantMsg: "format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestHTTPDisabledSkipsValidation(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Enabled = false
	cfg.HTTP.Port = 0
	cfg.HTTP.Address = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled HTTP section still validated: %v", err)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	if got := cfg.Relay.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout = %gs, want 60s", got)
	}
	if got := cfg.Relay.GetSweepInterval().Seconds(); got != 10 {
		t.Errorf("GetSweepInterval = %gs, want 10s", got)
	}
}

func TestAdminIDUnset(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.Relay.AdminID(); ok {
		t.Error("AdminID reported a value with no admin configured")
	}
}
