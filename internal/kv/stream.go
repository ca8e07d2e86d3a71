package kv

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamEntry is one delivered log entry: an opaque id plus its string
// key/value fields. All numeric values are stringified so decimal precision
// survives the round trip.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// XAdd appends fields to stream, returning the assigned entry id.
func (s *Store) XAdd(ctx context.Context, stream string, fields map[string]string) (string, error) {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: toValues(fields)}).Result()
}

// XAddBatch appends multiple entries atomically via a MULTI/EXEC pipeline,
// returning their assigned ids in order.
func (s *Store) XAddBatch(ctx context.Context, stream string, batch []map[string]string) ([]string, error) {
	pipe := s.rdb.TxPipeline()
	cmds := make([]*redis.StringCmd, len(batch))
	for i, fields := range batch {
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: toValues(fields)})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, len(cmds))
	for i, c := range cmds {
		ids[i] = c.Val()
	}
	return ids, nil
}

// XGroupCreate idempotently ensures a consumer group exists, starting from
// startID ("0" for beginning, "$" for only-new).
func (s *Store) XGroupCreate(ctx context.Context, stream, group, startID string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// XReadGroup reads up to count new (never-delivered) entries for consumer
// in group, blocking up to blockMS milliseconds (<= 0 = return immediately:
// a Block of -1 sends no BLOCK argument, whereas a zero Block would mean
// "block forever" on the wire).
func (s *Store) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, blockMS int64) ([]StreamEntry, error) {
	block := time.Duration(-1)
	if blockMS > 0 {
		block = time.Duration(blockMS) * time.Millisecond
	}
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return flattenMessages(res), nil
}

// XReadPending re-reads entries already delivered to consumer but not yet
// acked, for crash recovery.
func (s *Store) XReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]StreamEntry, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, "0"},
		Count:    count,
		Block:    -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return flattenMessages(res), nil
}

// XAck marks entries as processed.
func (s *Store) XAck(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.rdb.XAck(ctx, stream, group, ids...).Err()
}

// XTrim bounds the stream to at most maxLen entries (exact MAXLEN trim).
func (s *Store) XTrim(ctx context.Context, stream string, maxLen int64) error {
	return s.rdb.XTrimMaxLen(ctx, stream, maxLen).Err()
}

// XPendingEntry reports one pending entry's owner, idle time and delivery
// count, used by the dead-letter decision.
type XPendingEntry struct {
	ID         string
	Consumer   string
	IdleMillis int64
	Deliveries int64
}

// XPendingExtended lists detailed pending entries for group (up to count),
// used to detect entries that have exceeded the retry bound.
func (s *Store) XPendingExtended(ctx context.Context, stream, group string, count int64) ([]XPendingEntry, error) {
	res, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]XPendingEntry, len(res))
	for i, p := range res {
		out[i] = XPendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			IdleMillis: p.Idle.Milliseconds(),
			Deliveries: p.RetryCount,
		}
	}
	return out, nil
}

// XClaim takes ownership of idle pending entries for consumer, the
// mechanism that actually performs redelivery after pending_timeout.
func (s *Store) XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	msgs, err := s.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}
	return flattenOne(msgs), nil
}

// XLen reports the current stream length.
func (s *Store) XLen(ctx context.Context, stream string) (int64, error) {
	return s.rdb.XLen(ctx, stream).Result()
}

func toValues(fields map[string]string) map[string]interface{} {
	v := make(map[string]interface{}, len(fields))
	for k, val := range fields {
		v[k] = val
	}
	return v
}

func flattenMessages(streams []redis.XStream) []StreamEntry {
	var out []StreamEntry
	for _, st := range streams {
		out = append(out, flattenOne(st.Messages)...)
	}
	return out
}

func flattenOne(msgs []redis.XMessage) []StreamEntry {
	out := make([]StreamEntry, len(msgs))
	for i, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		out[i] = StreamEntry{ID: m.ID, Fields: fields}
	}
	return out
}
