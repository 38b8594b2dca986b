package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Host != "0.0.0.0" || cfg.Port != 8080 {
		t.Fatalf("default bind %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.UploadDir != "./uploads" {
		t.Fatalf("default upload dir %q", cfg.UploadDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")
	t.Setenv("UPLOAD_DIR", "/tmp/sendit")
	t.Setenv("WS_HEARTBEAT", "5s")

	cfg := FromEnv()
	if cfg.Host != "127.0.0.1" || cfg.Port != 9090 || cfg.UploadDir != "/tmp/sendit" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Heartbeat != 5*time.Second {
		t.Fatalf("Heartbeat = %v", cfg.Heartbeat)
	}
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	cfg.Port = -1
	if cfg.Validate() == nil {
		t.Fatal("negative port must fail")
	}

	cfg = FromEnv()
	cfg.UploadDir = ""
	if cfg.Validate() == nil {
		t.Fatal("empty upload dir must fail")
	}

	cfg = FromEnv()
	cfg.WSMaxMsg = 10
	if cfg.Validate() == nil {
		t.Fatal("tiny WS_MAX_MSG must fail")
	}
}
