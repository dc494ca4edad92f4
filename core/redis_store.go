package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a ResourceStore backed by Redis.
//
// Key layout:
//
//	<ns>:resources:<id>   JSON registration
//	<ns>:agents:<id>      JSON agent record
//	<ns>:kinds:<kind>     set of resource ids per kind
//	<ns>:cleanup          set of ids marked for cleanup
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 100 * time.Millisecond
	opt.MaxRetryBackoff = time.Second
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()
		if err == nil {
			break
		}
		if i < 2 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis after retries: %v: %w", err, ErrStoreUnavailable)
	}

	return NewRedisStoreWithClient(client, namespace), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		logger:    &NoOpLogger{},
	}
}

// SetLogger configures the logger for this store
func (s *RedisStore) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) resourceKey(id string) string {
	return fmt.Sprintf("%s:resources:%s", s.namespace, id)
}

func (s *RedisStore) agentKey(id string) string {
	return fmt.Sprintf("%s:agents:%s", s.namespace, id)
}

func (s *RedisStore) kindKey(kind ResourceKind) string {
	return fmt.Sprintf("%s:kinds:%s", s.namespace, kind)
}

func (s *RedisStore) cleanupKey() string {
	return fmt.Sprintf("%s:cleanup", s.namespace)
}

// scanValues returns the raw values of every key matching pattern.
func (s *RedisStore) scanValues(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var values []string
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %v: %w", pattern, err, ErrStoreUnavailable)
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("mget %s: %v: %w", pattern, err, ErrStoreUnavailable)
			}
			for _, v := range vals {
				// Keys can expire between SCAN and MGET
				if str, ok := v.(string); ok {
					values = append(values, str)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return values, nil
}

// ListResources implements ResourceStore.
func (s *RedisStore) ListResources(ctx context.Context) ([]*Resource, error) {
	values, err := s.scanValues(ctx, fmt.Sprintf("%s:resources:*", s.namespace))
	if err != nil {
		return nil, err
	}

	out := make([]*Resource, 0, len(values))
	for _, v := range values {
		res, err := DecodeResource([]byte(v))
		if err != nil {
			s.logger.Warn("Skipping unreadable resource record", map[string]interface{}{
				"operation":  "store_list_resources",
				"error":      err.Error(),
				"error_type": fmt.Sprintf("%T", err),
			})
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	s.logger.Debug("Listed resources", map[string]interface{}{
		"operation": "store_list_resources",
		"count":     len(out),
		"namespace": s.namespace,
	})
	return out, nil
}

// ListAgentRecords implements ResourceStore.
func (s *RedisStore) ListAgentRecords(ctx context.Context) ([]*AgentRecord, error) {
	values, err := s.scanValues(ctx, fmt.Sprintf("%s:agents:*", s.namespace))
	if err != nil {
		return nil, err
	}

	out := make([]*AgentRecord, 0, len(values))
	for _, v := range values {
		rec, err := DecodeAgentRecord([]byte(v))
		if err != nil {
			s.logger.Warn("Skipping unreadable agent record", map[string]interface{}{
				"operation": "store_list_agents",
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// UpsertResource writes the registration and maintains the kind index atomically.
func (s *RedisStore) UpsertResource(ctx context.Context, resource *Resource) error {
	if resource == nil || resource.ID == "" {
		return fmt.Errorf("resource id is required: %w", ErrInvalidResource)
	}

	data, err := EncodeRegistration(resource)
	if err != nil {
		return fmt.Errorf("failed to marshal resource %s: %w", resource.ID, err)
	}

	key := s.resourceKey(resource.ID)

	var previousKind ResourceKind
	if prev, err := s.client.Get(ctx, key).Result(); err == nil {
		if old, derr := DecodeResource([]byte(prev)); derr == nil {
			previousKind = old.Kind
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read resource %s: %v: %w", resource.ID, err, ErrStoreUnavailable)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	if previousKind != "" && previousKind != resource.Kind {
		pipe.SRem(ctx, s.kindKey(previousKind), resource.ID)
	}
	if resource.Kind != "" {
		pipe.SAdd(ctx, s.kindKey(resource.Kind), resource.ID)
	}
	pipe.SRem(ctx, s.cleanupKey(), resource.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to upsert resource atomically", map[string]interface{}{
			"operation":   "store_upsert",
			"resource_id": resource.ID,
			"error":       err.Error(),
			"error_type":  fmt.Sprintf("%T", err),
		})
		return fmt.Errorf("failed to upsert resource %s: %v: %w", resource.ID, err, ErrStoreUnavailable)
	}

	s.logger.Info("Resource upserted", map[string]interface{}{
		"operation":     "store_upsert",
		"resource_id":   resource.ID,
		"resource_kind": string(resource.Kind),
	})
	return nil
}

// PutAgentRecord publishes a live agent record.
func (s *RedisStore) PutAgentRecord(ctx context.Context, rec *AgentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal agent record %s: %w", rec.AgentID, err)
	}
	if err := s.client.Set(ctx, s.agentKey(rec.AgentID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store agent record %s: %v: %w", rec.AgentID, err, ErrStoreUnavailable)
	}
	return nil
}

// IDsByKind returns the ids indexed under kind.
func (s *RedisStore) IDsByKind(ctx context.Context, kind ResourceKind) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.kindKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read kind index %s: %v: %w", kind, err, ErrStoreUnavailable)
	}
	sort.Strings(ids)
	return ids, nil
}

// FetchFreshness implements FreshnessSource with one MGET per record family.
func (s *RedisStore) FetchFreshness(ctx context.Context, ids []string) (map[string]Freshness, error) {
	out := make(map[string]Freshness, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	resKeys := make([]string, len(ids))
	agentKeys := make([]string, len(ids))
	for i, id := range ids {
		resKeys[i] = s.resourceKey(id)
		agentKeys[i] = s.agentKey(id)
	}

	resVals, err := s.client.MGet(ctx, resKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resource freshness: %v: %w", err, ErrStoreUnavailable)
	}
	agentVals, err := s.client.MGet(ctx, agentKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent freshness: %v: %w", err, ErrStoreUnavailable)
	}

	for i, id := range ids {
		var f Freshness
		found := false
		if str, ok := resVals[i].(string); ok {
			if res, err := DecodeResource([]byte(str)); err == nil {
				f = Freshness{LastSeenAt: res.LastSeenAt, Status: res.Status}
				found = true
			}
		}
		if str, ok := agentVals[i].(string); ok {
			if rec, err := DecodeAgentRecord([]byte(str)); err == nil {
				if rec.LastSeenAt.After(f.LastSeenAt) {
					f.LastSeenAt = rec.LastSeenAt
				}
				f.Status = rec.Status
				found = true
			}
		}
		if found {
			out[id] = f
		}
	}
	return out, nil
}

// MarkForCleanup implements CleanupMarker.
func (s *RedisStore) MarkForCleanup(ctx context.Context, id string) error {
	if err := s.client.SAdd(ctx, s.cleanupKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to mark %s for cleanup: %v: %w", id, err, ErrStoreUnavailable)
	}
	return nil
}

// MarkedForCleanup returns the ids currently marked for cleanup.
func (s *RedisStore) MarkedForCleanup(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.cleanupKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cleanup marks: %v: %w", err, ErrStoreUnavailable)
	}
	sort.Strings(ids)
	return ids, nil
}
