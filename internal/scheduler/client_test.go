package scheduler

import "testing"

func TestRedisClientOptParsesURL(t *testing.T) {
	opt, err := redisClientOpt("redis://:secret@localhost:6390/2", false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opt.Addr != "localhost:6390" || opt.Password != "secret" || opt.DB != 2 {
		t.Fatalf("unexpected options: %+v", opt)
	}
	if opt.TLSConfig != nil {
		t.Fatal("expected no TLS for redis://")
	}
}

func TestRedisClientOptInsecureTLS(t *testing.T) {
	opt, err := redisClientOpt("rediss://localhost:6390", true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatal("expected insecure TLS config")
	}
}

type schedCfg struct{ url, queue string }

func (c schedCfg) GetRedisURL() string       { return c.url }
func (c schedCfg) GetRedisTLSInsecure() bool { return false }
func (c schedCfg) GetAsynqQueueName() string { return c.queue }
func (c schedCfg) GetAsynqConcurrency() int  { return 0 }

func TestNewClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(schedCfg{}); err == nil {
		t.Fatal("expected error without redis url")
	}
}

func TestQueueNameDefaults(t *testing.T) {
	if got := queueName(schedCfg{}); got != "default" {
		t.Fatalf("expected default queue, got %q", got)
	}
	if got := queueName(schedCfg{queue: "rating"}); got != "rating" {
		t.Fatalf("expected rating queue, got %q", got)
	}
}
