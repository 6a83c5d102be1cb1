package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var out string
	if err := c.Get(ctx, "k", &out); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if n, err := c.Bump(ctx, "gen"); err != nil || n != 0 {
		t.Errorf("Bump = %d, %v", n, err)
	}
	if n, err := c.Generation(ctx, "gen"); err != nil || n != 0 {
		t.Errorf("Generation = %d, %v", n, err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("patient", "detail", "P000001"); got != "patient:detail:P000001" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestRedisCache_Prefix(t *testing.T) {
	c := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()
	if got := c.key("patient:P1"); got != "emr:patient:P1" {
		t.Errorf("unexpected prefixed key %q", got)
	}
}

func TestRedisCache_UnreachableIsNotAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisFromClient(client, "test")
	defer c.Close()

	var out string
	err := c.Get(context.Background(), "k", &out)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if errors.Is(err, ErrMiss) {
		t.Error("connection failure must not be reported as a miss")
	}
	if err := c.Delete(context.Background()); err != nil {
		t.Errorf("Delete with no keys should be a no-op, got %v", err)
	}
	if _, err := c.Generation(context.Background(), "gen"); err == nil {
		t.Error("expected Generation to report the connection error")
	}
	if _, err := c.Bump(context.Background(), "gen"); err == nil {
		t.Error("expected Bump to report the connection error")
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url", ""); err == nil {
		t.Fatal("expected parse error")
	}
}
