package utils

import (
	"testing"
	"time"
)

func TestRedisConfig_WithDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if cfg.DialTimeout != 3*time.Second {
		t.Fatalf("dial timeout default = %v", cfg.DialTimeout)
	}
	if cfg.PoolSize != 20 {
		t.Fatalf("pool size default = %d", cfg.PoolSize)
	}
	if cfg.PingTimeout != 2*time.Second {
		t.Fatalf("ping timeout default = %v", cfg.PingTimeout)
	}
}

func TestRedisConfig_ExplicitValuesKept(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379", PoolSize: 5, DialTimeout: time.Second}.withDefaults()
	if cfg.PoolSize != 5 || cfg.DialTimeout != time.Second {
		t.Fatalf("explicit values must survive defaulting: %+v", cfg)
	}
}
