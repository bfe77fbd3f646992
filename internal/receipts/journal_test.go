package receipts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestJournal(t *testing.T, ttl time.Duration) (*Journal, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewJournal(rdb, ttl, nil), mr
}

func sampleReceipt(tx string) Receipt {
	return Receipt{
		Payer:    "0x1111111111111111111111111111111111111111",
		TxHash:   tx,
		Network:  "bsc",
		Resource: "https://api.example.com/premium",
		Asset:    "0x4444444444444444444444444444444444444444",
		Amount:   "1000000",
	}
}

func TestJournal_RecordAndGet(t *testing.T) {
	j, _ := newTestJournal(t, 0)
	ctx := context.Background()

	j.Record(ctx, sampleReceipt("0xaaa"))

	rec, err := j.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("receipt missing")
	}
	if rec.Payer != "0x1111111111111111111111111111111111111111" || rec.Network != "bsc" {
		t.Errorf("receipt: %+v", rec)
	}
	if rec.SettledAt == 0 {
		t.Error("settledAt not stamped")
	}
}

func TestJournal_GetMissing(t *testing.T) {
	j, _ := newTestJournal(t, 0)

	rec, err := j.Get(context.Background(), "0xnope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("receipt: %+v, want nil", rec)
	}
}

func TestJournal_RecentOrder(t *testing.T) {
	j, _ := newTestJournal(t, 0)
	ctx := context.Background()

	for _, tx := range []string{"0xaaa", "0xbbb", "0xccc"} {
		j.Record(ctx, sampleReceipt(tx))
	}

	recent, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0] != "0xccc" || recent[1] != "0xbbb" {
		t.Errorf("recent: %v, want newest first", recent)
	}
}

func TestJournal_TTL(t *testing.T) {
	j, mr := newTestJournal(t, time.Minute)
	ctx := context.Background()

	j.Record(ctx, sampleReceipt("0xaaa"))
	mr.FastForward(2 * time.Minute)

	rec, err := j.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("receipt survived TTL: %+v", rec)
	}
}

func TestJournal_PreservesExplicitSettledAt(t *testing.T) {
	j, _ := newTestJournal(t, 0)
	ctx := context.Background()

	r := sampleReceipt("0xaaa")
	r.SettledAt = 1700000000
	j.Record(ctx, r)

	rec, err := j.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SettledAt != 1700000000 {
		t.Errorf("settledAt: got %d", rec.SettledAt)
	}
}
