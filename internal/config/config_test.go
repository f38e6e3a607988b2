package config

import (
	"reflect"
	"testing"
	"time"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("test", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := validConfig(t)

	if cfg.HTTPPort != "8080" || cfg.Feed != FeedTerminal || !cfg.DeactivateOnce {
		t.Errorf("unexpected defaults: port=%s feed=%s deactivate_once=%v", cfg.HTTPPort, cfg.Feed, cfg.DeactivateOnce)
	}
	if cfg.ConnectMaxRetries != 10 || cfg.ConnectBaseDelay != time.Second || cfg.ConnectMaxDelay != time.Minute {
		t.Errorf("unexpected connect defaults: %d %v %v", cfg.ConnectMaxRetries, cfg.ConnectBaseDelay, cfg.ConnectMaxDelay)
	}
	if cfg.HeartbeatInterval != 5*time.Second || cfg.EvalInterval != 5*time.Second {
		t.Errorf("unexpected intervals: heartbeat=%v eval=%v", cfg.HeartbeatInterval, cfg.EvalInterval)
	}
	if cfg.DeliveryAttempts != 3 || cfg.DeliveryBaseBackoff != time.Second || cfg.WebhookTimeout != 10*time.Second {
		t.Errorf("unexpected delivery defaults: %d %v %v", cfg.DeliveryAttempts, cfg.DeliveryBaseBackoff, cfg.WebhookTimeout)
	}
	if cfg.KafkaBrokers != "" {
		t.Errorf("KafkaBrokers = %q, want empty", cfg.KafkaBrokers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("FEED", "paper")
	t.Setenv("EVAL_INTERVAL", "2s")
	t.Setenv("DEACTIVATE_ONCE", "false")

	cfg, err := Load("test", []string{"-http-port", "9090", "-stream-symbols", "EURUSD, GBPUSD"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Feed != FeedPaper || cfg.EvalInterval != 2*time.Second || cfg.DeactivateOnce {
		t.Errorf("env not applied: feed=%s eval=%v deactivate_once=%v", cfg.Feed, cfg.EvalInterval, cfg.DeactivateOnce)
	}
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %s, want 9090", cfg.HTTPPort)
	}
	if got, want := cfg.Symbols(), []string{"EURUSD", "GBPUSD"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Symbols() = %v, want %v", got, want)
	}
}

func TestLoad_BadFlag(t *testing.T) {
	if _, err := Load("test", []string{"-eval-interval", "soon"}); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty http port", func(c *Config) { c.HTTPPort = "" }, "http-port cannot be empty"},
		{"empty dsn", func(c *Config) { c.PostgresDSN = "" }, "postgres-dsn cannot be empty"},
		{"empty redis", func(c *Config) { c.RedisAddr = "" }, "redis-addr cannot be empty"},
		{"unknown feed", func(c *Config) { c.Feed = "csv" }, `feed must be "terminal" or "paper", got "csv"`},
		{"terminal without url", func(c *Config) { c.TerminalURL = "" }, "terminal-url cannot be empty"},
		{"paper without url", func(c *Config) { c.Feed = FeedPaper; c.TerminalURL = "" }, ""},
		{"zero retries", func(c *Config) { c.ConnectMaxRetries = 0 }, "connect-max-retries must be > 0"},
		{"zero eval interval", func(c *Config) { c.EvalInterval = 0 }, "eval-interval must be > 0"},
		{"negative workers", func(c *Config) { c.DeliveryWorkers = -1 }, "delivery-workers must be > 0"},
		{"cap below base", func(c *Config) { c.ConnectMaxDelay = time.Millisecond }, "connect-max-delay must be >= connect-base-delay"},
		{"kafka without topic", func(c *Config) { c.KafkaBrokers = "localhost:9092"; c.KafkaTopic = "" }, "kafka-topic cannot be empty"},
		{"kafka without group", func(c *Config) { c.KafkaBrokers = "localhost:9092"; c.KafkaGroupID = "" }, "kafka-group-id cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.errMsg {
				t.Errorf("Validate() error = %v, want %q", err, tt.errMsg)
			}
		})
	}
}
