// Copyright 2025 James Ross
package redismemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/memory"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures the Redis connection and key layout.
type Options struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Provider stores one JSON document per record under
// <prefix>:memory:<id> and indexes each space in a sorted set
// <prefix>:space:<spaceId> scored by CreatedAt, which makes the
// descending-by-creation query a reverse range.
type Provider struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

// New connects a provider. The connection is verified in CheckHealth,
// not here.
func New(opts Options, log *zap.Logger) *Provider {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(rdb, opts.KeyPrefix, log)
}

// NewWithClient wraps an existing client; used by tests and by callers
// sharing a connection pool.
func NewWithClient(rdb *redis.Client, prefix string, log *zap.Logger) *Provider {
	if prefix == "" {
		prefix = "maiar"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{rdb: rdb, prefix: prefix, log: log}
}

func (p *Provider) ID() string { return "redis-memory" }

func (p *Provider) Init(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *Provider) CheckHealth(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.rdb.Close()
}

func (p *Provider) recordKey(id string) string {
	return fmt.Sprintf("%s:memory:%s", p.prefix, id)
}

func (p *Provider) spaceKey(spaceID string) string {
	return fmt.Sprintf("%s:space:%s", p.prefix, spaceID)
}

// Store inserts a record, assigning id and CreatedAt when absent.
func (p *Provider) Store(ctx context.Context, rec memory.Record) (string, error) {
	if rec.SpaceID == "" {
		return "", fmt.Errorf("memory record requires a spaceId")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal memory record: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, p.recordKey(rec.ID), payload, 0)
	pipe.ZAdd(ctx, p.spaceKey(rec.SpaceID), redis.Z{Score: float64(rec.CreatedAt), Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store memory record: %w", err)
	}
	return rec.ID, nil
}

// Update patches an existing record. CreatedAt and SpaceID are never
// touched.
func (p *Provider) Update(ctx context.Context, id string, patch memory.Update) error {
	rec, err := p.get(ctx, id)
	if err != nil {
		return err
	}
	if patch.Context != nil {
		rec.Context = *patch.Context
	}
	if patch.Metadata != nil {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			rec.Metadata[k] = v
		}
	}
	if patch.UpdatedAt != 0 {
		rec.UpdatedAt = patch.UpdatedAt
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}
	if err := p.rdb.Set(ctx, p.recordKey(id), payload, 0).Err(); err != nil {
		return fmt.Errorf("update memory record %s: %w", id, err)
	}
	return nil
}

// Delete removes the record and its space index entry.
func (p *Provider) Delete(ctx context.Context, id string) error {
	rec, err := p.get(ctx, id)
	if err != nil {
		return err
	}
	pipe := p.rdb.TxPipeline()
	pipe.ZRem(ctx, p.spaceKey(rec.SpaceID), id)
	pipe.Del(ctx, p.recordKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete memory record %s: %w", id, err)
	}
	return nil
}

func (p *Provider) get(ctx context.Context, id string) (memory.Record, error) {
	raw, err := p.rdb.Get(ctx, p.recordKey(id)).Result()
	if err == redis.Nil {
		return memory.Record{}, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("read memory record %s: %w", id, err)
	}
	var rec memory.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return memory.Record{}, fmt.Errorf("decode memory record %s: %w", id, err)
	}
	return rec, nil
}

// Query returns records across the selected spaces, newest first.
func (p *Provider) Query(ctx context.Context, opts memory.QueryOptions) ([]memory.Record, error) {
	spaces, err := p.resolveSpaces(ctx, opts)
	if err != nil {
		return nil, err
	}

	var out []memory.Record
	for _, spaceID := range spaces {
		ids, err := p.rdb.ZRevRange(ctx, p.spaceKey(spaceID), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("range space %s: %w", spaceID, err)
		}
		for _, id := range ids {
			rec, err := p.get(ctx, id)
			if err != nil {
				// index entry without a record: stale, skip
				p.log.Debug("dangling space index entry", zap.String("id", id))
				continue
			}
			if opts.Before > 0 && rec.CreatedAt >= opts.Before {
				continue
			}
			if opts.After > 0 && rec.CreatedAt <= opts.After {
				continue
			}
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// resolveSpaces expands the query's space selector. RelatedSpaces wins
// over the single space id.
func (p *Provider) resolveSpaces(ctx context.Context, opts memory.QueryOptions) ([]string, error) {
	if opts.RelatedSpaces == nil {
		if opts.SpaceID == "" {
			return nil, fmt.Errorf("query requires spaceId or relatedSpaces")
		}
		return []string{opts.SpaceID}, nil
	}
	return p.scanSpaces(ctx, opts.RelatedSpaces)
}

func (p *Provider) scanSpaces(ctx context.Context, related *agent.RelatedSpaces) ([]string, error) {
	keyPrefix := p.prefix + ":space:"
	match := keyPrefix + "*"
	if related.Pattern == "" && related.Prefix != "" {
		match = keyPrefix + related.Prefix + "*"
	}

	var spaces []string
	var cursor uint64
	for {
		keys, next, err := p.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan spaces: %w", err)
		}
		for _, key := range keys {
			spaceID := strings.TrimPrefix(key, keyPrefix)
			if related.Pattern != "" {
				ok, err := doublestar.Match(related.Pattern, spaceID)
				if err != nil {
					return nil, fmt.Errorf("space pattern %q: %w", related.Pattern, err)
				}
				if !ok {
					continue
				}
			}
			spaces = append(spaces, spaceID)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(spaces)
	return spaces, nil
}
