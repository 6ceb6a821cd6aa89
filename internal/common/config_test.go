package common

import (
	"testing"
	"time"
)

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("SKALD_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_StorageEnvOverrides(t *testing.T) {
	t.Setenv("SKALD_DB_ADDRESS", "ws://db:8000/rpc")
	t.Setenv("SKALD_DB_NAMESPACE", "prod")
	t.Setenv("SKALD_DB_DATABASE", "transcribe")
	t.Setenv("SKALD_DB_USERNAME", "svc")
	t.Setenv("SKALD_DB_PASSWORD", "hunter2")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.Address != "ws://db:8000/rpc" {
		t.Errorf("Storage.Address = %q, want %q", cfg.Storage.Address, "ws://db:8000/rpc")
	}
	if cfg.Storage.Namespace != "prod" {
		t.Errorf("Storage.Namespace = %q, want %q", cfg.Storage.Namespace, "prod")
	}
	if cfg.Storage.Database != "transcribe" {
		t.Errorf("Storage.Database = %q, want %q", cfg.Storage.Database, "transcribe")
	}
	if cfg.Storage.Username != "svc" || cfg.Storage.Password != "hunter2" {
		t.Errorf("Storage credentials = %q/%q, want svc/hunter2", cfg.Storage.Username, cfg.Storage.Password)
	}
}

func TestConfig_ObjectStoreEnvOverrides(t *testing.T) {
	t.Setenv("R2_ACCOUNT_ID", "acct123")
	t.Setenv("R2_ACCESS_KEY_ID", "ak")
	t.Setenv("R2_SECRET_ACCESS_KEY", "sk")
	t.Setenv("R2_BUCKET_NAME", "media-prod")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.ObjectStore.AccountID != "acct123" {
		t.Errorf("ObjectStore.AccountID = %q, want %q", cfg.ObjectStore.AccountID, "acct123")
	}
	if cfg.ObjectStore.Bucket != "media-prod" {
		t.Errorf("ObjectStore.Bucket = %q, want %q", cfg.ObjectStore.Bucket, "media-prod")
	}
	if got := cfg.ObjectStore.ResolveEndpoint(); got != "https://acct123.r2.cloudflarestorage.com" {
		t.Errorf("ResolveEndpoint() = %q", got)
	}
}

func TestConfig_WorkerEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_ID", "worker-7")
	t.Setenv("WORKER_POLL_INTERVAL", "2")
	t.Setenv("WORKER_MAX_POLL_INTERVAL", "30s")
	t.Setenv("WORKER_MAX_JOBS_PER_RUN", "50")
	t.Setenv("WORKER_SHUTDOWN_ON_EMPTY", "true")
	t.Setenv("WORKER_EMPTY_SHUTDOWN_MINUTES", "3")
	t.Setenv("WORKER_LOCK_TTL_MINUTES", "15")
	t.Setenv("WORKER_STALE_CHECK_MINUTES", "2")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Worker.ID != "worker-7" {
		t.Errorf("Worker.ID = %q, want %q", cfg.Worker.ID, "worker-7")
	}
	if d := cfg.Worker.GetPollInterval(); d != 2*time.Second {
		t.Errorf("GetPollInterval() = %v, want 2s (bare seconds accepted)", d)
	}
	if d := cfg.Worker.GetMaxPollInterval(); d != 30*time.Second {
		t.Errorf("GetMaxPollInterval() = %v, want 30s", d)
	}
	if cfg.Worker.MaxJobsPerRun != 50 {
		t.Errorf("MaxJobsPerRun = %d, want 50", cfg.Worker.MaxJobsPerRun)
	}
	if !cfg.Worker.ShutdownOnEmpty {
		t.Error("ShutdownOnEmpty = false, want true")
	}
	if cfg.Worker.EmptyShutdownMinutes != 3 {
		t.Errorf("EmptyShutdownMinutes = %d, want 3", cfg.Worker.EmptyShutdownMinutes)
	}
	if d := cfg.Worker.GetLockTTL(); d != 15*time.Minute {
		t.Errorf("GetLockTTL() = %v, want 15m", d)
	}
	if d := cfg.Worker.GetStaleCheckInterval(); d != 2*time.Minute {
		t.Errorf("GetStaleCheckInterval() = %v, want 2m", d)
	}
}

func TestConfig_QuotaEnvOverride(t *testing.T) {
	t.Setenv("TRANSCRIPTION_DAILY_LIMIT_MINUTES", "120")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Quota.DailyLimitMinutes != 120 {
		t.Errorf("Quota.DailyLimitMinutes = %d, want 120", cfg.Quota.DailyLimitMinutes)
	}
}

func TestConfig_GeminiKeyEnvOverride(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-from-env")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Engine.APIKey != "gem-from-env" {
		t.Errorf("Engine.APIKey = %q, want %q", cfg.Engine.APIKey, "gem-from-env")
	}
}

func TestWorkerConfig_InvalidDurationsFallBack(t *testing.T) {
	cfg := &WorkerConfig{
		PollInterval:      "not-a-duration",
		HeartbeatInterval: "",
		ProgressInterval:  "bogus",
	}
	if d := cfg.GetPollInterval(); d != 5*time.Second {
		t.Errorf("GetPollInterval() = %v, want 5s fallback", d)
	}
	if d := cfg.GetHeartbeatInterval(); d != 30*time.Second {
		t.Errorf("GetHeartbeatInterval() = %v, want 30s fallback", d)
	}
	if d := cfg.GetProgressInterval(); d != 5*time.Second {
		t.Errorf("GetProgressInterval() = %v, want 5s fallback", d)
	}
	if d := cfg.GetLockTTL(); d != 30*time.Minute {
		t.Errorf("GetLockTTL() = %v, want 30m fallback", d)
	}
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.IsProduction() {
		t.Error("default config should not be production")
	}
	cfg.Environment = "Production"
	if !cfg.IsProduction() {
		t.Error("expected IsProduction() for 'Production'")
	}
	cfg.Environment = " prod "
	if !cfg.IsProduction() {
		t.Error("expected IsProduction() for ' prod '")
	}
}
