package redisx

import (
	"fmt"
	"testing"

	"github.com/livecanasta/live-baskets/internal/live"
)

func TestKeys(t *testing.T) {
	tests := []struct{ got, want string }{
		{fmt.Sprintf(KeyDedup, "live-notifier", "ev-1"), "dedup:live-notifier:ev-1"},
		{progressKey("live-7"), "live:finalize:live-7"},
		{fmt.Sprintf(KeyLiveView, "live-7"), "live:view:live-7"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
	// the lock lives outside the progress hash so clearing progress never frees it
	if live.LockKey("live-7") == progressKey("live-7") {
		t.Error("lock and progress keys collide")
	}
}
