package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newValidViper() *viper.Viper {
	v := NewViper()
	v.Set("auth.signing_secret", "unit-test-secret")
	v.Set("github.client_id", "client-id")
	v.Set("github.client_secret", "client-secret")
	return v
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(newValidViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("expected default address, got %s", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "quill.db" {
		t.Fatalf("expected default database path, got %s", cfg.DatabasePath)
	}
	if cfg.TokenTTL != 48*time.Hour {
		t.Fatalf("expected 48h token ttl, got %s", cfg.TokenTTL)
	}
	if cfg.ChannelKeyTTL != 60*time.Second {
		t.Fatalf("expected 60s channel key ttl, got %s", cfg.ChannelKeyTTL)
	}
	if cfg.DebounceWindow != 200*time.Second {
		t.Fatalf("expected 200s debounce window, got %s", cfg.DebounceWindow)
	}
	if cfg.EntryMaxIdle != 3600*time.Second {
		t.Fatalf("expected 1h entry max idle, got %s", cfg.EntryMaxIdle)
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	v := newValidViper()
	v.Set("http.address", "127.0.0.1:9999")
	v.Set("channel.debounce_seconds", 5)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9999" {
		t.Fatalf("expected overridden address, got %s", cfg.HTTPAddress)
	}
	if cfg.DebounceWindow != 5*time.Second {
		t.Fatalf("expected overridden debounce window, got %s", cfg.DebounceWindow)
	}
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{name: "signing secret", key: "auth.signing_secret"},
		{name: "github client id", key: "github.client_id"},
		{name: "github client secret", key: "github.client_secret"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			v := newValidViper()
			v.Set(testCase.key, "  ")
			if _, err := Load(v); err == nil || !strings.Contains(err.Error(), testCase.key) {
				t.Fatalf("expected error naming %s, got %v", testCase.key, err)
			}
		})
	}
}

func TestLoadRejectsNonPositiveWindows(t *testing.T) {
	v := newValidViper()
	v.Set("channel.debounce_seconds", 0)
	if _, err := Load(v); err == nil {
		t.Fatal("expected error for zero debounce window")
	}

	v = newValidViper()
	v.Set("channel.key_ttl_seconds", -1)
	if _, err := Load(v); err == nil {
		t.Fatal("expected error for negative key ttl")
	}
}
