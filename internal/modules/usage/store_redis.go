package usage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// reserveScript checks every charged hash against its limits and increments
// all of them only if every one fits. ARGV carries four values per key:
// render delta, minute delta, render limit, minute limit (-1 = none).
// Reply: {applied, renders1, minutes1, renders2, minutes2, ...}
var reserveScript = redis.NewScript(`
local n = #KEYS
local state = {}
local ok = 1
local maxr = 9223372036854775807
for i = 1, n do
  local base = (i - 1) * 4
  local dr = tonumber(ARGV[base + 1])
  local dm = tonumber(ARGV[base + 2])
  local lr = tonumber(ARGV[base + 3])
  local lm = tonumber(ARGV[base + 4])
  local cur = redis.call('HMGET', KEYS[i], 'renders', 'minutes')
  local r = tonumber(cur[1]) or 0
  local m = tonumber(cur[2]) or 0
  if r + dr >= maxr or (lr >= 0 and r + dr > lr) or (lm >= 0 and m + dm > lm) then
    ok = 0
  end
  state[i] = {r, m}
end
local out = {ok}
for i = 1, n do
  local base = (i - 1) * 4
  local r = state[i][1]
  local m = state[i][2]
  if ok == 1 and (tonumber(ARGV[base + 1]) ~= 0 or tonumber(ARGV[base + 2]) ~= 0) then
    r = redis.call('HINCRBY', KEYS[i], 'renders', ARGV[base + 1])
    m = tonumber(redis.call('HINCRBYFLOAT', KEYS[i], 'minutes', ARGV[base + 2]))
  end
  table.insert(out, tostring(r))
  table.insert(out, tostring(m))
end
return out
`)

// RedisStore keeps one hash per (account, period)
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed usage store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// key keeps all periods of one account in the same cluster slot so a
// reservation spanning periods stays a single-slot script
func (s *RedisStore) key(accountID, periodKey string) string {
	return fmt.Sprintf("%s:{%s}:%s", s.prefix, accountID, periodKey)
}

// Get returns the record or a zeroed one
func (s *RedisStore) Get(ctx context.Context, accountID, periodKey string) (Record, error) {
	vals, err := s.client.HMGet(ctx, s.key(accountID, periodKey), "renders", "minutes").Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	rec := Record{AccountID: accountID, PeriodKey: periodKey}
	if v, ok := vals[0].(string); ok {
		rec.RendersUsed, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals[1].(string); ok {
		rec.MinutesUsed, _ = strconv.ParseFloat(v, 64)
	}
	return rec, nil
}

// Increment adds delta without limits
func (s *RedisStore) Increment(ctx context.Context, accountID, periodKey string, delta Delta) (Record, error) {
	res, err := s.Reserve(ctx, accountID, []Charge{{
		PeriodKey:   periodKey,
		Delta:       delta,
		RenderLimit: NoLimit,
		MinuteLimit: NoLimit,
	}})
	if err != nil {
		return Record{}, err
	}
	return res.Records[0], nil
}

// Reserve runs the conditional increment script across all charged periods
func (s *RedisStore) Reserve(ctx context.Context, accountID string, charges []Charge) (Reservation, error) {
	keys := make([]string, len(charges))
	args := make([]interface{}, 0, len(charges)*4)
	for i, c := range charges {
		keys[i] = s.key(accountID, c.PeriodKey)
		args = append(args,
			c.Delta.Renders,
			strconv.FormatFloat(c.Delta.Minutes, 'f', -1, 64),
			c.RenderLimit,
			c.MinuteLimit,
		)
	}

	raw, err := reserveScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(raw) != 1+2*len(charges) {
		return Reservation{}, fmt.Errorf("%w: unexpected script reply length %d", ErrStorageUnavailable, len(raw))
	}

	res := Reservation{Applied: toInt64(raw[0]) == 1, Records: make([]Record, len(charges))}
	for i, c := range charges {
		res.Records[i] = Record{
			AccountID:   accountID,
			PeriodKey:   c.PeriodKey,
			RendersUsed: toInt64(raw[1+2*i]),
			MinutesUsed: toFloat64(raw[2+2*i]),
		}
	}
	return res, nil
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(x, 64)
		return int64(f)
	}
	return 0
}

func toFloat64(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}
