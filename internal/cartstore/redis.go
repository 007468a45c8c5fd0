// Package cartstore keeps shopping carts in Redis.
//
// Each cart is a hash at cart:{id} mapping variant id to quantity. Every
// access slides the key TTL, so abandoned carts expire on their own.
package cartstore

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/picklepot-store/internal/domain/cart"
)

// DefaultTTL is how long an untouched cart is kept.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "cart:"

var _ cart.Store = (*Store)(nil)

// Store implements cart.Store on a Redis hash per cart.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New creates a Store. A non-positive ttl selects DefaultTTL.
func New(rdb redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(cartID string) string { return keyPrefix + cartID }

// Items returns the cart lines ordered by variant id.
func (s *Store) Items(ctx context.Context, cartID string) ([]cart.Item, error) {
	var all *redis.MapStringStringCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		all = p.HGetAll(ctx, key(cartID))
		p.Expire(ctx, key(cartID), s.ttl)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read cart %q", cartID)
	}
	return parseItems(all.Val()), nil
}

// SetQuantity sets the quantity of a variant in the cart.
func (s *Store) SetQuantity(ctx context.Context, cartID, variantID string, qty int) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key(cartID), variantID, qty)
		p.Expire(ctx, key(cartID), s.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "set quantity in cart %q", cartID)
	}
	return nil
}

// Remove deletes a variant from the cart.
func (s *Store) Remove(ctx context.Context, cartID, variantID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, key(cartID), variantID)
		p.Expire(ctx, key(cartID), s.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "remove from cart %q", cartID)
	}
	return nil
}

// Clear deletes the cart.
func (s *Store) Clear(ctx context.Context, cartID string) error {
	if err := s.rdb.Del(ctx, key(cartID)).Err(); err != nil {
		return errors.Wrapf(err, "clear cart %q", cartID)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// parseItems converts a cart hash to items. Fields with a malformed or
// non-positive quantity are ignored.
func parseItems(fields map[string]string) []cart.Item {
	items := make([]cart.Item, 0, len(fields))
	for variantID, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil || qty <= 0 {
			continue
		}
		items = append(items, cart.Item{VariantID: variantID, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
	return items
}
