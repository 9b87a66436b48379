package redishost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

var _ sessions.Registry = (*Host)(nil)

// Config for the Redis-backed registry. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: REGISTRY_KEY_PREFIX
	KeyPrefix string `env:"REGISTRY_KEY_PREFIX,default=mcp:gateway:"`
}

type Host struct {
	client    *redis.Client
	keyPrefix string
}

func New(ctx context.Context, cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client. The Host takes ownership of it.
func NewWithClient(cl *redis.Client, keyPrefix string) *Host {
	if keyPrefix == "" {
		keyPrefix = "mcp:gateway:"
	}
	return &Host{client: cl, keyPrefix: keyPrefix}
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

// --- Key helpers ---

func (h *Host) recordKey(id string) string        { return h.keyPrefix + "session:" + id }
func (h *Host) namespaceKey(id string) string     { return h.keyPrefix + "namespace:" + id }
func (h *Host) kindKey(kind sessions.Kind) string { return h.keyPrefix + "kind:" + string(kind) }

func (h *Host) allKindKeys() []string {
	kinds := sessions.Kinds()
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, h.kindKey(k))
	}
	return out
}

// --- Scripts: each mutation is one atomic server-side step ---

var registerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'kind', ARGV[1], 'token', ARGV[2], 'created_at', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

var removeScript = redis.NewScript(`
redis.call('DEL', KEYS[1], KEYS[2])
for i = 3, #KEYS do
  redis.call('SREM', KEYS[i], ARGV[1])
end
return 1
`)

var setNamespaceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[1] == '' then
  redis.call('DEL', KEYS[2])
else
  redis.call('SET', KEYS[2], ARGV[1])
end
return 1
`)

func (h *Host) insert(ctx context.Context, id string, rec sessions.Record) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("register: empty session id")
	}
	if !rec.Kind.Valid() {
		return false, fmt.Errorf("register %q: unknown transport kind %q", id, rec.Kind)
	}
	keys := []string{h.recordKey(id), h.kindKey(rec.Kind)}
	res, err := registerScript.Run(ctx, h.client, keys,
		string(rec.Kind), rec.BearerToken, rec.CreatedAt.UTC().Format(time.RFC3339Nano), id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("register %q: %w", id, err)
	}
	return res == 1, nil
}

func (h *Host) Register(ctx context.Context, id string, rec sessions.Record) error {
	inserted, err := h.insert(ctx, id, rec)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("register %q: %w", id, sessions.ErrDuplicateSession)
	}
	return nil
}

func (h *Host) RegisterOrJoin(ctx context.Context, id string, rec sessions.Record) (bool, error) {
	inserted, err := h.insert(ctx, id, rec)
	if err != nil {
		return false, err
	}
	return !inserted, nil
}

func (h *Host) Lookup(ctx context.Context, id string) (sessions.Record, error) {
	m, err := h.client.HGetAll(ctx, h.recordKey(id)).Result()
	if err != nil {
		return sessions.Record{}, fmt.Errorf("lookup %q: %w", id, err)
	}
	if len(m) == 0 {
		return sessions.Record{}, sessions.ErrSessionNotFound
	}
	rec := sessions.Record{Kind: sessions.Kind(m["kind"]), BearerToken: m["token"]}
	if ts := m["created_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.CreatedAt = t
		}
	}
	return rec, nil
}

func (h *Host) Remove(ctx context.Context, id string) error {
	keys := append([]string{h.recordKey(id), h.namespaceKey(id)}, h.allKindKeys()...)
	if err := removeScript.Run(ctx, h.client, keys, id).Err(); err != nil {
		return fmt.Errorf("remove %q: %w", id, err)
	}
	return nil
}

func (h *Host) SetNamespace(ctx context.Context, id string, ns string) error {
	if id == "" {
		return sessions.ErrNoSession
	}
	res, err := setNamespaceScript.Run(ctx, h.client, []string{h.recordKey(id), h.namespaceKey(id)}, ns).Int()
	if err != nil {
		return fmt.Errorf("set namespace %q: %w", id, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %w", sessions.ErrNoSession, sessions.ErrSessionNotFound)
	}
	return nil
}

func (h *Host) Namespace(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", sessions.ErrNoSession
	}
	v, err := h.client.Get(ctx, h.namespaceKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get namespace %q: %w", id, err)
	}
	return v, nil
}

func (h *Host) Counts(ctx context.Context) (map[sessions.Kind]int, error) {
	out := sessions.EmptyCounts()
	cmds, err := h.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range sessions.Kinds() {
			p.SCard(ctx, h.kindKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	for i, k := range sessions.Kinds() {
		n, err := cmds[i].(*redis.IntCmd).Result()
		if err != nil {
			return nil, fmt.Errorf("counts %s: %w", k, err)
		}
		out[k] = int(n)
	}
	return out, nil
}
