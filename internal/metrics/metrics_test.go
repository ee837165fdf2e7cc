package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve("127.0.0.1:0")
	defer srv.Close()

	CopiedTradesTotal.WithLabelValues("primary").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "copytrade_trades_total" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("copytrade_trades_total metric not found")
	}
}

func TestFailureCounterByStage(t *testing.T) {
	before := testutil.ToFloat64(ReplicationFailuresTotal.WithLabelValues("quote"))
	ReplicationFailuresTotal.WithLabelValues("quote").Inc()
	after := testutil.ToFloat64(ReplicationFailuresTotal.WithLabelValues("quote"))
	if after-before != 1 {
		t.Fatalf("expected counter to advance by 1, got %.0f", after-before)
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store := NewSnapshotStore(client, "copytrade:test:"+time.Now().Format("150405.000"))
	type stats struct {
		TradesCopied int `json:"trades_copied"`
	}
	if err := store.Save(ctx, stats{TradesCopied: 3}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	var got stats
	_, ok, err := store.Load(ctx, &got)
	if err != nil || !ok {
		t.Fatalf("Load returned ok=%v err=%v", ok, err)
	}
	if got.TradesCopied != 3 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	_ = client.Del(ctx, store.key).Err()
}
