package usage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Stats is the quota accounting a passthrough server reports for one remote
// token. Pointer fields distinguish "not reported" from zero, so merging
// never overwrites a field the current response did not carry.
type Stats struct {
	TokenID    string `json:"tokenId"`
	Calls      *int64 `json:"calls,omitempty"`
	MaxCalls   *int64 `json:"maxCalls,omitempty"`
	TotalCalls *int64 `json:"totalCalls,omitempty"`
	Remaining  *int64 `json:"remaining,omitempty"`
	LastReset  string `json:"lastReset,omitempty"`
}

// Store keeps per-token usage stats in Redis hashes, one hash per token id.
// HSET of individual fields gives atomic upsert without read-modify-write.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func key(tokenID string) string {
	return "usage:" + tokenID
}

// Merge upserts only the fields present in stats.
func (s *Store) Merge(ctx context.Context, tokenID string, stats Stats) error {
	fields := hashFields(stats)
	if len(fields) == 0 {
		return nil
	}
	if err := s.rdb.HSet(ctx, key(tokenID), fields).Err(); err != nil {
		return fmt.Errorf("merging usage stats for token %s: %w", tokenID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tokenID string) (Stats, error) {
	values, err := s.rdb.HGetAll(ctx, key(tokenID)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("reading usage stats for token %s: %w", tokenID, err)
	}
	return statsFromHash(tokenID, values), nil
}

// RecordCall counts one inbound passthrough dispatch against the token and
// returns the updated stats for the response headers.
func (s *Store) RecordCall(ctx context.Context, tokenID string) (Stats, error) {
	calls, err := s.rdb.HIncrBy(ctx, key(tokenID), "calls", 1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("counting call for token %s: %w", tokenID, err)
	}
	total, err := s.rdb.HIncrBy(ctx, key(tokenID), "total_calls", 1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("counting call for token %s: %w", tokenID, err)
	}
	return Stats{TokenID: tokenID, Calls: &calls, TotalCalls: &total}, nil
}

func hashFields(stats Stats) map[string]interface{} {
	fields := make(map[string]interface{})
	if stats.Calls != nil {
		fields["calls"] = *stats.Calls
	}
	if stats.MaxCalls != nil {
		fields["max_calls"] = *stats.MaxCalls
	}
	if stats.TotalCalls != nil {
		fields["total_calls"] = *stats.TotalCalls
	}
	if stats.Remaining != nil {
		fields["remaining"] = *stats.Remaining
	}
	if stats.LastReset != "" {
		fields["last_reset"] = stats.LastReset
	}
	return fields
}

func statsFromHash(tokenID string, values map[string]string) Stats {
	stats := Stats{TokenID: tokenID, LastReset: values["last_reset"]}
	stats.Calls = parseField(values, "calls")
	stats.MaxCalls = parseField(values, "max_calls")
	stats.TotalCalls = parseField(values, "total_calls")
	stats.Remaining = parseField(values, "remaining")
	return stats
}

func parseField(values map[string]string, field string) *int64 {
	raw, ok := values[field]
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
