package dynvoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discord.Token = "token"
	cfg.Discord.ApplicationID = "123"
	cfg.Discord.GuildID = "456"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(*Config) {},
		},
		{
			name:    "missing token",
			modify:  func(c *Config) { c.Discord.Token = "" },
			wantErr: "Token",
		},
		{
			name:    "missing guild",
			modify:  func(c *Config) { c.Discord.GuildID = "" },
			wantErr: "GuildID",
		},
		{
			name:    "database type",
			modify:  func(c *Config) { c.DatabaseType = "mysql" },
			wantErr: "DatabaseType",
		},
		{
			name:    "category limit",
			modify:  func(c *Config) { c.Voice.CategoryLimit = 0 },
			wantErr: "CategoryLimit",
		},
		{
			name:    "api enabled without secret",
			modify:  func(c *Config) { c.API.Enabled = true },
			wantErr: "Secret",
		},
		{
			name: "api enabled",
			modify: func(c *Config) {
				c.API.Enabled = true
				c.API.Secret = "hunter2"
			},
		},
		{
			name:    "listen network",
			modify:  func(c *Config) { c.API.ListenNetwork = "udp" },
			wantErr: "ListenNetwork",
		},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				cfg := validConfig()
				tc.modify(cfg)
				d := &DynVoice{config: cfg}
				err := d.ValidateConfig()
				if tc.wantErr == "" {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			},
		)
	}
}

func TestConfig_LogValueRedacts(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Discord.Token = "super-secret-token"
	cfg.API.Secret = "super-secret-api"

	s := cfg.LogValue().String()
	assert.NotContains(t, s, "super-secret-token")
	assert.NotContains(t, s, "super-secret-api")
	assert.Contains(t, s, "[redacted]")
}

func TestDefaultCORSConfig_Copies(t *testing.T) {
	t.Parallel()
	a := DefaultCORSConfig()
	a.AllowMethods[0] = "PATCH"
	b := DefaultCORSConfig()
	assert.NotEqual(t, "PATCH", b.AllowMethods[0])
}
