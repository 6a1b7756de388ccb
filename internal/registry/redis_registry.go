package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/config"
)

var (
	// publishScript writes the record and adds it to the active set in one
	// step so List never sees a member without data.
	publishScript = redis.NewScript(`
		local key = KEYS[1]
		local active_key = KEYS[2]
		redis.call('SET', key, ARGV[1], 'PX', tonumber(ARGV[2]))
		redis.call('SADD', active_key, ARGV[3])
		return 1
	`)

	heartbeatScript = redis.NewScript(`
		local key = KEYS[1]
		local data = redis.call('GET', key)
		if not data then
			return 0
		end
		local rec = cjson.decode(data)
		rec.updated_at = ARGV[2]
		redis.call('SET', key, cjson.encode(rec), 'PX', tonumber(ARGV[1]))
		return 1
	`)

	// listScript returns live records and prunes expired ids from the set.
	listScript = redis.NewScript(`
		local active_key = KEYS[1]
		local prefix = ARGV[1]
		local active = redis.call('SMEMBERS', active_key)
		local result = {}
		for _, id in ipairs(active) do
			local data = redis.call('GET', prefix .. id)
			if data then
				table.insert(result, data)
			else
				redis.call('SREM', active_key, id)
			end
		end
		return result
	`)
)

// RedisRegistry keeps records under <prefix><id> with an <prefix>active
// index set.
type RedisRegistry struct {
	client redis.UniversalClient
	logger logrus.FieldLogger
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(client redis.UniversalClient, logger logrus.FieldLogger, prefix string, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if prefix == "" {
		prefix = "vehiclecount:sessions:"
	}
	return &RedisRegistry{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewRedisClient connects to the configured Redis and verifies it answers.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (r *RedisRegistry) activeKey() string {
	return r.prefix + "active"
}

func (r *RedisRegistry) Publish(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = publishScript.Run(ctx, r.client,
		[]string{r.prefix + rec.ID, r.activeKey()},
		data, r.ttl.Milliseconds(), rec.ID).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", rec.ID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"id":     rec.ID,
		"status": rec.Stats.Status,
	}).Debug("Session published")
	return nil
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := heartbeatScript.Run(ctx, r.client, []string{r.prefix + id}, r.ttl.Milliseconds(), now).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, r.prefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}
	if err := r.client.SRem(ctx, r.activeKey(), id).Err(); err != nil {
		r.logger.WithError(err).WithField("id", id).Warn("Failed to remove id from active set")
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Record, error) {
	data, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}
	return &rec, nil
}

// List returns live records ordered by id.
func (r *RedisRegistry) List(ctx context.Context) ([]*Record, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	records := make([]*Record, 0, len(res))
	for _, data := range res {
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			r.logger.WithError(err).Warn("Skipping unreadable registry record")
			continue
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (r *RedisRegistry) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
