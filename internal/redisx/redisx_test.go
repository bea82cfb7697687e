package redisx

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestParseURL(t *testing.T) {
	opts, err := ParseURL("redis://:secret@localhost:6380/3")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 3 || opts.TLSConfig != nil {
		t.Fatalf("unexpected options: %+v", opts)
	}
	tlsOpts, err := ParseURL("rediss://cache.internal:6379")
	if err != nil || tlsOpts.TLSConfig == nil || tlsOpts.TLSConfig.ServerName != "cache.internal" {
		t.Fatalf("rediss should enable TLS: %+v %v", tlsOpts, err)
	}
	if _, err := ParseURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestOpenPings(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb, err := Open(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = rdb.Close()

	addr := mr.Addr()
	mr.Close()
	if _, err := Open(context.Background(), "redis://"+addr+"/0"); err == nil {
		t.Fatalf("expected ping failure on closed server")
	}
}
