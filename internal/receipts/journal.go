// Package receipts keeps a Redis journal of settled payments for operator
// audit. Recording is best-effort: the settlement already happened
// on-chain, so journal errors are logged and never fail the request.
package receipts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	receiptKeyPrefix = "receipt:"
	recentKey        = "receipts:recent"
	recentMax        = 1000
)

// Receipt is one settled payment.
type Receipt struct {
	Payer     string `json:"payer"`
	TxHash    string `json:"txHash"`
	Network   string `json:"network"`
	Resource  string `json:"resource,omitempty"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	SettledAt int64  `json:"settledAt"`
}

// Journal writes receipts to Redis, keyed by transaction hash, with a
// rolling recent list.
type Journal struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
	now func() time.Time
}

// NewJournal creates a Journal. ttl 0 keeps receipts forever.
func NewJournal(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{rdb: rdb, ttl: ttl, log: log, now: time.Now}
}

// Record stores the receipt. Errors are logged, not returned.
func (j *Journal) Record(ctx context.Context, r Receipt) {
	if r.SettledAt == 0 {
		r.SettledAt = j.now().Unix()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		j.log.Error("marshal receipt", zap.Error(err))
		return
	}
	if err := j.rdb.Set(ctx, receiptKeyPrefix+r.TxHash, raw, j.ttl).Err(); err != nil {
		j.log.Warn("record receipt failed",
			zap.String("txHash", r.TxHash),
			zap.Error(err),
		)
		return
	}
	pipe := j.rdb.Pipeline()
	pipe.LPush(ctx, recentKey, r.TxHash)
	pipe.LTrim(ctx, recentKey, 0, recentMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		j.log.Warn("trim recent receipts failed", zap.Error(err))
	}
}

// Get looks up a receipt by transaction hash. Returns nil when absent.
func (j *Journal) Get(ctx context.Context, txHash string) (*Receipt, error) {
	raw, err := j.rdb.Get(ctx, receiptKeyPrefix+txHash).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Recent returns up to n most recently settled transaction hashes.
func (j *Journal) Recent(ctx context.Context, n int64) ([]string, error) {
	return j.rdb.LRange(ctx, recentKey, 0, n-1).Result()
}
