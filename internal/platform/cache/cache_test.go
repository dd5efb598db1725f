package cache

import (
	"testing"
	"time"
)

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantErr   bool
		wantTTL   time.Duration
		wantRetry time.Duration
		wantDB    int
	}{
		{
			name:      "lock defaults",
			opts:      Options{URL: "redis://localhost:6379"},
			wantTTL:   10 * time.Second,
			wantRetry: 25 * time.Millisecond,
		},
		{
			name:      "explicit lock timings",
			opts:      Options{URL: "redis://localhost:6379/2", LockTTL: 2 * time.Second, LockRetry: 50 * time.Millisecond},
			wantTTL:   2 * time.Second,
			wantRetry: 50 * time.Millisecond,
			wantDB:    2,
		},
		{name: "empty url", opts: Options{}, wantErr: true},
		{name: "bad scheme", opts: Options{URL: "http://localhost:6379"}, wantErr: true},
		{name: "negative ttl", opts: Options{URL: "redis://localhost:6379", LockTTL: -time.Second}, wantErr: true},
		{
			name:    "retry not shorter than ttl",
			opts:    Options{URL: "redis://localhost:6379", LockTTL: 100 * time.Millisecond, LockRetry: 100 * time.Millisecond},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			ro, err := clientOptions(&opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("clientOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if opts.LockTTL != tt.wantTTL {
				t.Errorf("LockTTL = %s, want %s", opts.LockTTL, tt.wantTTL)
			}
			if opts.LockRetry != tt.wantRetry {
				t.Errorf("LockRetry = %s, want %s", opts.LockRetry, tt.wantRetry)
			}
			if ro.DB != tt.wantDB {
				t.Errorf("DB = %d, want %d", ro.DB, tt.wantDB)
			}
			if ro.DialTimeout != 5*time.Second {
				t.Errorf("DialTimeout = %s, want 5s", ro.DialTimeout)
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	_, err := New(t.Context(), Options{URL: "redis://localhost:59999"})
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}

func TestNew_InvalidOptionsSkipDial(t *testing.T) {
	_, err := New(t.Context(), Options{URL: "redis://localhost:59999", LockTTL: -1})
	if err == nil {
		t.Fatal("New() should reject a negative lock ttl")
	}
}
