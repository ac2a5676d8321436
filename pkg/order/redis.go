package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

// redisCASScript replaces an order document only if it still equals the
// version the caller read, and claims the order's tx hash atomically.
// KEYS[1] = order key
// KEYS[2] = tx key (ignored when ARGV[4] == "0")
// ARGV[1] = expected current document
// ARGV[2] = new document
// ARGV[3] = order id
// ARGV[4] = "1" when a tx hash must be claimed
var redisCASScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
    return "not_found"
end
if cur ~= ARGV[1] then
    return "stale"
end
if ARGV[4] == "1" then
    local owner = redis.call("GET", KEYS[2])
    if owner and owner ~= ARGV[3] then
        return "tx_used:" .. owner
    end
    redis.call("SET", KEYS[2], ARGV[3])
end
redis.call("SET", KEYS[1], ARGV[2])
return "ok"
`)

// redisCreateScript inserts a new order and indexes it by creation time.
// KEYS[1] = order key, KEYS[2] = index zset, KEYS[3] = tx key
// ARGV[1] = document, ARGV[2] = order id, ARGV[3] = created_at score,
// ARGV[4] = "1" when a tx hash must be claimed
var redisCreateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return "exists"
end
if ARGV[4] == "1" then
    local owner = redis.call("GET", KEYS[3])
    if owner and owner ~= ARGV[2] then
        return "tx_used:" .. owner
    end
    redis.call("SET", KEYS[3], ARGV[2])
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
return "ok"
`)

const maxCASRetries = 8

// RedisStore persists orders as JSON documents in Redis, so several provider
// processes can share one order book.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to addr. prefix namespaces every key.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreWithClient(rdb, prefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ivxp"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) orderKey(id string) string { return s.prefix + ":order:" + id }
func (s *RedisStore) indexKey() string          { return s.prefix + ":orders" }
func (s *RedisStore) txKey(h string) string     { return s.prefix + ":tx:" + normTx(h) }

func (s *RedisStore) Create(ctx context.Context, o *model.Order) error {
	if err := checkNew(o); err != nil {
		return err
	}
	c := o.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	claim := "0"
	if c.TxHash != "" {
		claim = "1"
	}
	res, err := redisCreateScript.Run(ctx, s.client,
		[]string{s.orderKey(c.OrderID), s.indexKey(), s.txKey(c.TxHash)},
		string(doc), c.OrderID, c.CreatedAt.UnixNano(), claim).Text()
	if err != nil {
		return fmt.Errorf("redis order create: %w", err)
	}
	return s.scriptResult(res, c.OrderID, c.TxHash)
}

func (s *RedisStore) get(ctx context.Context, orderID string) (*model.Order, string, error) {
	raw, err := s.client.Get(ctx, s.orderKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", ivxperr.OrderNotFound(orderID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("redis order get: %w", err)
	}
	var o model.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, "", fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return &o, raw, nil
}

func (s *RedisStore) Get(ctx context.Context, orderID string) (*model.Order, error) {
	o, _, err := s.get(ctx, orderID)
	return o, err
}

func (s *RedisStore) Update(ctx context.Context, orderID string, patch model.Patch) (*model.Order, error) {
	if patch.Status != nil {
		return nil, fmt.Errorf("%w: use Transition to change status", ErrInvalidTransition)
	}
	return s.cas(ctx, orderID, "", patch)
}

func (s *RedisStore) Transition(ctx context.Context, orderID string, from, to model.OrderStatus, patch model.Patch) (*model.Order, error) {
	if err := checkTransition(orderID, from, to); err != nil {
		return nil, err
	}
	patch.Status = &to
	return s.cas(ctx, orderID, from, patch)
}

// cas reads, patches and conditionally writes the order, retrying when a
// concurrent writer got there first.
func (s *RedisStore) cas(ctx context.Context, orderID string, from model.OrderStatus, patch model.Patch) (*model.Order, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		cur, raw, err := s.get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if from != "" && cur.Status != from {
			return nil, fmt.Errorf("%w: order %s is %s, expected %s", ErrConflict, orderID, cur.Status, from)
		}

		next := cur.Clone()
		patch.Apply(next)
		stamp(next, s.now())
		doc, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode order: %w", err)
		}

		claim, txHash := "0", ""
		if patch.TxHash != nil && *patch.TxHash != "" {
			claim, txHash = "1", *patch.TxHash
		}
		res, err := redisCASScript.Run(ctx, s.client,
			[]string{s.orderKey(orderID), s.txKey(txHash)},
			raw, string(doc), orderID, claim).Text()
		if err != nil {
			return nil, fmt.Errorf("redis order update: %w", err)
		}
		if res == "stale" {
			continue
		}
		if err := s.scriptResult(res, orderID, txHash); err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("%w: order %s kept changing", ErrConflict, orderID)
}

func (s *RedisStore) scriptResult(res, orderID, txHash string) error {
	switch {
	case res == "ok":
		return nil
	case res == "exists":
		return fmt.Errorf("%w: %s", ErrExists, orderID)
	case res == "not_found":
		return ivxperr.OrderNotFound(orderID)
	case len(res) > len("tx_used:") && res[:len("tx_used:")] == "tx_used:":
		return txUsed(txHash, res[len("tx_used:"):])
	default:
		return fmt.Errorf("unexpected redis script result %q", res)
	}
}

func (s *RedisStore) List(ctx context.Context, f Filter) ([]*model.Order, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis order index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.orderKey(id)
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis order mget: %w", err)
	}

	var out []*model.Order
	for _, d := range docs {
		raw, ok := d.(string)
		if !ok {
			continue
		}
		var o model.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		if !f.match(&o) {
			continue
		}
		out = append(out, &o)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, orderID string) error {
	n, err := s.client.Del(ctx, s.orderKey(orderID)).Result()
	if err != nil {
		return fmt.Errorf("redis order delete: %w", err)
	}
	if n == 0 {
		return ivxperr.OrderNotFound(orderID)
	}
	return s.client.ZRem(ctx, s.indexKey(), orderID).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
