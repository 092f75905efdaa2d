package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir()) // no .env here

	cfg, err := Load()
	req.NoError(err)
	req.Equal("5000", cfg.Port)
	req.Equal("development", cfg.Env)
	req.Equal("info", cfg.LogLevel)
	req.Equal(DriverMemory, cfg.StoreDriver)
	req.Equal(15*time.Second, cfg.SweepInterval)
	req.Equal(10*time.Second, cfg.StaleAfter)
	req.EqualValues(8192, cfg.MaxBodyBytes)
	req.False(cfg.AutoBlockEnabled)
	req.Empty(cfg.RateLimitWhitelist)
	req.True(cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())
	t.Setenv("PORT", "8080")
	t.Setenv("STORE_DRIVER", " SQLite ")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("STALE_AFTER", "30s")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16,")
	t.Setenv("AUTO_BLOCK_ENABLED", "true")

	cfg, err := Load()
	req.NoError(err)
	req.Equal("8080", cfg.Port)
	req.Equal(DriverSQLite, cfg.StoreDriver)
	req.Equal(time.Minute, cfg.SweepInterval)
	req.Equal(30*time.Second, cfg.StaleAfter)
	req.Equal([]string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
	req.True(cfg.AutoBlockEnabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}, "unknown STORE_DRIVER"},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}, "DATABASE_URL"},
		{"production without redis", map[string]string{"ENV": "production"}, "REDIS_URL"},
		{"bad duration", map[string]string{"STALE_AFTER": "soon"}, "STALE_AFTER"},
		{"zero interval", map[string]string{"SWEEP_INTERVAL": "0s"}, "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.ErrorContains(t, err, tt.want)
		})
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
