package scheduler

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisClientOptParsesURL(t *testing.T) {
	opt, err := redisClientOpt("redis://:sekret@localhost:6380/2", false)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if opt.Addr != "localhost:6380" {
		t.Fatalf("addr = %s, want localhost:6380", opt.Addr)
	}
	if opt.Password != "sekret" {
		t.Fatalf("password = %q, want sekret", opt.Password)
	}
	if opt.DB != 2 {
		t.Fatalf("db = %d, want 2", opt.DB)
	}
	if opt.TLSConfig != nil {
		t.Fatal("plain redis:// URL must not carry TLS config")
	}
}

func TestRedisClientOptTLSInsecure(t *testing.T) {
	opt, err := redisClientOpt("rediss://localhost:6380", true)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatal("expected TLS config with certificate verification disabled")
	}

	// The flag also forces TLS onto a plain URL, matching managed Redis
	// providers that terminate TLS in front of a redis:// endpoint.
	opt, err = redisClientOpt("redis://localhost:6380", true)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatal("tlsInsecure must apply to plain URLs too")
	}
}

func TestRedisClientOptRejectsBadURL(t *testing.T) {
	if _, err := redisClientOpt("localhost:6379", false); err == nil {
		t.Fatal("expected an error for a URL without a scheme")
	}
}

func TestRedisClientOptConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	opt, err := redisClientOpt("redis://"+mr.Addr(), false)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: opt.Addr, Password: opt.Password, DB: opt.DB})
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
