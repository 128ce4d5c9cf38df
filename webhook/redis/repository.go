package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of webhook.Repository
 * Each event lives in a hash, sorted sets index it by creation time,
 * due time, lease expiry and owning entity
 * Lua scripts keep create and claim atomic across concurrent workers
 */

const (
	hashPrefix   = "webhook_event"         // Hash naming: webhook_event:{id}
	idemPrefix   = "webhook_event:idem"    // Idempotency key naming: webhook_event:idem:{key}
	allKey       = "webhook_events:all"    // Every event scored by CreatedAt
	dueKey       = "webhook_events:due"    // Pending events scored by NextRetryAt
	leaseKey     = "webhook_events:leases" // Sending events scored by LeaseUntil
	entityPrefix = "webhook_events:entity" // Entity index naming: webhook_events:entity:{type}:{id}
)

/* createScript stores the event only if its idempotency key is free
 * KEYS: idem, hash, all, due, entity
 * ARGV: id, createdAt score, due score ("" when not pending), field/value pairs...
 * Returns the id owning the idempotency key
 */
var createScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	return existing
end
redis.call('SET', KEYS[1], ARGV[1])
for i = 4, #ARGV, 2 do
	redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
end
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[5], ARGV[2], ARGV[1])
if ARGV[3] ~= '' then
	redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
end
return ARGV[1]
`)

/* claimScript moves a pending event, or a sending event with an expired lease, to sending
 * KEYS: hash, due, leases
 * ARGV: id, worker, now ms, lease-until ms
 * Returns -1 when missing, 0 when not claimable, 1 on success
 */
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'sending' then
	local lease = tonumber(redis.call('HGET', KEYS[1], 'lease_until') or '') or 0
	if lease > tonumber(ARGV[3]) then
		return 0
	end
elseif status ~= 'pending' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'sending', 'claimed_by', ARGV[2], 'lease_until', ARGV[4], 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

/* saveClaimedScript rewrites an event only while worker still owns it
 * KEYS: hash, due, leases
 * ARGV: id, worker, due score ("" unless pending), lease score ("" unless sending), field/value pairs...
 * Returns -1 when missing, 0 when ownership was lost, 1 on success
 */
var saveClaimedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local status = redis.call('HGET', KEYS[1], 'status')
local owner = redis.call('HGET', KEYS[1], 'claimed_by')
if status ~= 'sending' or owner ~= ARGV[2] then
	return 0
end
for i = 5, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if ARGV[3] ~= '' then
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
else
	redis.call('ZREM', KEYS[2], ARGV[1])
end
if ARGV[4] ~= '' then
	redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
else
	redis.call('ZREM', KEYS[3], ARGV[1])
end
return 1
`)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func idemKey(key string) string {
	return fmt.Sprintf("%s:%s", idemPrefix, key)
}

func entityKey(entityType, entityID string) string {
	return fmt.Sprintf("%s:%s:%s", entityPrefix, entityType, entityID)
}

// Create stores a new event unless its idempotency key already exists
func (r *Repository) Create(ctx context.Context, ev webhook.Event) (webhook.Event, bool, error) {
	fields, err := toHash(ev)
	if err != nil {
		return webhook.Event{}, false, err
	}

	dueScore := ""
	if ev.Status == webhook.Pending {
		dueScore = strconv.FormatInt(ev.NextRetryAt.UnixMilli(), 10)
	}

	args := make([]interface{}, 0, 3+2*len(fields))
	args = append(args, ev.ID, ev.CreatedAt.UnixMilli(), dueScore)
	for k, v := range fields {
		args = append(args, k, v)
	}

	keys := []string{
		idemKey(ev.IdempotencyKey),
		hashKey(ev.ID),
		allKey,
		dueKey,
		entityKey(ev.EntityType, ev.EntityID),
	}

	owner, err := createScript.Run(ctx, r.client, keys, args...).Text()
	if err != nil {
		return webhook.Event{}, false, fmt.Errorf("creating event: %w", err)
	}
	if owner == ev.ID {
		return ev, true, nil
	}

	existing, err := r.Get(ctx, owner)
	if err != nil {
		return webhook.Event{}, false, fmt.Errorf("loading event for idempotency key %s: %w", ev.IdempotencyKey, err)
	}
	return existing, false, nil
}

// Get retrieves a single event by ID
func (r *Repository) Get(ctx context.Context, id string) (webhook.Event, error) {
	data, err := r.client.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return webhook.Event{}, fmt.Errorf("getting event: %w", err)
	}

	if len(data) == 0 {
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}

	return fromHash(data)
}

// GetByIdempotencyKey resolves the idempotency index and loads the event
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (webhook.Event, error) {
	id, err := r.client.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return webhook.Event{}, fmt.Errorf("idempotency key %s: %w", key, webhook.ErrNotFound)
	}
	if err != nil {
		return webhook.Event{}, fmt.Errorf("getting idempotency key: %w", err)
	}
	return r.Get(ctx, id)
}

// List loads the indexed events and applies the filter in memory
func (r *Repository) List(ctx context.Context, filter webhook.Filter) ([]webhook.Event, int, error) {
	index := allKey
	if filter.EntityType != "" && filter.EntityID != "" {
		index = entityKey(filter.EntityType, filter.EntityID)
	}

	from := "-inf"
	if !filter.CreatedAfter.IsZero() {
		from = strconv.FormatInt(filter.CreatedAfter.UnixMilli(), 10)
	}

	ids, err := r.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{Min: from, Max: "+inf"}).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("listing event ids: %w", err)
	}

	all, err := r.load(ctx, index, ids)
	if err != nil {
		return nil, 0, err
	}

	items, total := webhook.Apply(all, filter)
	return items, total, nil
}

// ListByEntity returns every event for an entity, oldest first
func (r *Repository) ListByEntity(ctx context.Context, entityType, entityID string) ([]webhook.Event, error) {
	index := entityKey(entityType, entityID)

	ids, err := r.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing entity events: %w", err)
	}

	events, err := r.load(ctx, index, ids)
	if err != nil {
		return nil, err
	}

	webhook.SortEvents(events, webhook.SortCreatedAt, false)
	return events, nil
}

// CountByStatus counts live events per status
func (r *Repository) CountByStatus(ctx context.Context) (map[webhook.Status]int, error) {
	ids, err := r.client.ZRange(ctx, allKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing event ids: %w", err)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, hashKey(id), fieldStatus)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading statuses: %w", err)
	}

	counts := make(map[webhook.Status]int)
	for _, s := range webhook.Statuses() {
		counts[s] = 0
	}
	for _, cmd := range cmds {
		status, err := cmd.Result()
		if err != nil {
			continue
		}
		counts[webhook.NewStatus(status)]++
	}
	return counts, nil
}

// Save rewrites an existing event and keeps the due and lease indexes in step with its status
func (r *Repository) Save(ctx context.Context, ev webhook.Event) error {
	key := hashKey(ev.ID)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("checking event: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("event %s: %w", ev.ID, webhook.ErrNotFound)
	}

	fields, err := toHash(ev)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)

		if ev.Status == webhook.Pending {
			pipe.ZAdd(ctx, dueKey, redis.Z{Score: score(ev.NextRetryAt), Member: ev.ID})
		} else {
			pipe.ZRem(ctx, dueKey, ev.ID)
		}

		if ev.Status == webhook.Sending {
			pipe.ZAdd(ctx, leaseKey, redis.Z{Score: score(ev.LeaseUntil), Member: ev.ID})
		} else {
			pipe.ZRem(ctx, leaseKey, ev.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving event: %w", err)
	}
	return nil
}

// SetTTL expires the event hash and its idempotency key together
func (r *Repository) SetTTL(ctx context.Context, id string, ttl time.Duration) error {
	key := hashKey(id)

	idem, err := r.client.HGet(ctx, key, fieldIdempotencyKey).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("getting idempotency key: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, key, ttl)
		pipe.Expire(ctx, idemKey(idem), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting TTL: %w", err)
	}
	return nil
}

// DeleteTerminalBefore removes final events in the given statuses created before the cutoff
func (r *Repository) DeleteTerminalBefore(ctx context.Context, statuses []webhook.Status, before time.Time) (int, error) {
	wanted := make(map[webhook.Status]bool, len(statuses))
	for _, s := range statuses {
		if s.IsFinal() {
			wanted[s] = true
		}
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	ids, err := r.client.ZRangeByScore(ctx, allKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing expired ids: %w", err)
	}

	events, err := r.load(ctx, allKey, ids)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, ev := range events {
		if !wanted[ev.Status] {
			continue
		}

		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, hashKey(ev.ID), idemKey(ev.IdempotencyKey))
			pipe.ZRem(ctx, allKey, ev.ID)
			pipe.ZRem(ctx, dueKey, ev.ID)
			pipe.ZRem(ctx, leaseKey, ev.ID)
			pipe.ZRem(ctx, entityKey(ev.EntityType, ev.EntityID), ev.ID)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("deleting event %s: %w", ev.ID, err)
		}
		deleted++
	}

	return deleted, nil
}

// FindDue returns pending events past NextRetryAt and sending events past their lease
func (r *Repository) FindDue(ctx context.Context, now time.Time, limit int) ([]webhook.Event, error) {
	until := strconv.FormatInt(now.UnixMilli(), 10)
	rng := &redis.ZRangeBy{Min: "-inf", Max: until}
	if limit > 0 {
		rng.Count = int64(limit)
	}

	dueIDs, err := r.client.ZRangeByScore(ctx, dueKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("listing due events: %w", err)
	}
	due, err := r.load(ctx, dueKey, dueIDs)
	if err != nil {
		return nil, err
	}

	leaseIDs, err := r.client.ZRangeByScore(ctx, leaseKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("listing expired leases: %w", err)
	}
	stale, err := r.load(ctx, leaseKey, leaseIDs)
	if err != nil {
		return nil, err
	}

	var result []webhook.Event
	for _, ev := range append(due, stale...) {
		if webhook.Due(ev, now) {
			result = append(result, ev)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return dueAt(result[i]).Before(dueAt(result[j]))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func dueAt(ev webhook.Event) time.Time {
	if ev.Status == webhook.Sending {
		return ev.LeaseUntil
	}
	return ev.NextRetryAt
}

// Claim atomically takes ownership of a due event
func (r *Repository) Claim(ctx context.Context, id, worker string, now time.Time, lease time.Duration) (webhook.Event, error) {
	leaseUntil := now.Add(lease)

	res, err := claimScript.Run(ctx, r.client,
		[]string{hashKey(id), dueKey, leaseKey},
		id, worker, now.UnixMilli(), leaseUntil.UnixMilli(),
	).Int()
	if err != nil {
		return webhook.Event{}, fmt.Errorf("claiming event: %w", err)
	}

	switch res {
	case -1:
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	case 0:
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotClaimable)
	}

	return r.Get(ctx, id)
}

// SaveClaimed rewrites the event if worker still holds its claim
func (r *Repository) SaveClaimed(ctx context.Context, ev webhook.Event, worker string) (webhook.Event, error) {
	fields, err := toHash(ev)
	if err != nil {
		return webhook.Event{}, err
	}

	dueScore, leaseScore := "", ""
	switch ev.Status {
	case webhook.Pending:
		dueScore = strconv.FormatInt(ev.NextRetryAt.UnixMilli(), 10)
	case webhook.Sending:
		leaseScore = strconv.FormatInt(ev.LeaseUntil.UnixMilli(), 10)
	}

	args := make([]interface{}, 0, 4+2*len(fields))
	args = append(args, ev.ID, worker, dueScore, leaseScore)
	for k, v := range fields {
		args = append(args, k, v)
	}

	res, err := saveClaimedScript.Run(ctx, r.client,
		[]string{hashKey(ev.ID), dueKey, leaseKey}, args...,
	).Int()
	if err != nil {
		return webhook.Event{}, fmt.Errorf("saving claimed event: %w", err)
	}

	switch res {
	case -1:
		return webhook.Event{}, fmt.Errorf("event %s: %w", ev.ID, webhook.ErrNotFound)
	case 0:
		stored, err := r.Get(ctx, ev.ID)
		if err != nil {
			return webhook.Event{}, err
		}
		return stored, fmt.Errorf("event %s is %s: %w", ev.ID, stored.Status, webhook.ErrLeaseLost)
	}
	return ev, nil
}

// CountDue counts events the retry scheduler would pick up now
func (r *Repository) CountDue(ctx context.Context, now time.Time) (int, error) {
	until := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := r.client.Pipeline()
	due := pipe.ZCount(ctx, dueKey, "-inf", until)
	leases := pipe.ZCount(ctx, leaseKey, "-inf", until)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counting due events: %w", err)
	}

	return int(due.Val() + leases.Val()), nil
}

/* load fetches the hashes for ids in one pipeline
 * Ids whose hash expired are pruned from the index they came from
 */
func (r *Repository) load(ctx context.Context, index string, ids []string) ([]webhook.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, hashKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}

	events := make([]webhook.Event, 0, len(ids))
	var expired []interface{}
	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			expired = append(expired, ids[i])
			continue
		}
		ev, err := fromHash(data)
		if err != nil {
			return nil, fmt.Errorf("decoding event %s: %w", ids[i], err)
		}
		events = append(events, ev)
	}

	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, index, expired...).Err(); err != nil {
			return nil, fmt.Errorf("pruning expired ids: %w", err)
		}
		if index != allKey {
			r.client.ZRem(ctx, allKey, expired...)
		}
	}

	return events, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client (for testing purposes)
func (r *Repository) GetClient() *redis.Client {
	return r.client
}
