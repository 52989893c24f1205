// Package sessioncache persists the single authentication record of the client.
package sessioncache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/0xsequence/identity-verifier/encryption"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultKey is the key the record is stored under.
const DefaultKey = "biometricAuthToken"

type Cache struct {
	store  Store
	key    string
	sealer encryption.Cryptor
}

type Option func(*Cache)

func WithKey(key string) Option {
	return func(c *Cache) {
		if key != "" {
			c.key = key
		}
	}
}

// WithSealer encrypts the stored value with the given cryptor.
func WithSealer(sealer encryption.Cryptor) Option {
	return func(c *Cache) {
		c.sealer = sealer
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, key: DefaultKey}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Persist overwrites the cached record. The record is stored as given; see Expiry for how a
// missing token expiry is resolved.
func (c *Cache) Persist(ctx context.Context, record *proto.AuthRecord) (err error) {
	ctx, span := o11y.Trace(ctx, "sessioncache.Cache.Persist")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	if record == nil || record.AccessToken == "" {
		return proto.ErrNotAuthenticated.WithCausef("record has no access token")
	}

	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	value := base64.StdEncoding.EncodeToString(b)

	if c.sealer != nil {
		value, err = c.sealer.Encrypt(ctx, []byte(value))
		if err != nil {
			return fmt.Errorf("seal record: %w", err)
		}
	}

	if err := c.store.Set(ctx, c.key, []byte(value)); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

// Read returns the cached record. Absent, unreadable and corrupt entries all report false.
func (c *Cache) Read(ctx context.Context) (*proto.AuthRecord, bool) {
	ctx, span := o11y.Trace(ctx, "sessioncache.Cache.Read")
	defer span.End()

	log := o11y.LoggerFromContext(ctx)

	value, found, err := c.store.Get(ctx, c.key)
	if err != nil {
		log.Error("session cache read failed", "error", err)
		return nil, false
	}
	if !found || len(value) == 0 {
		return nil, false
	}

	record, err := c.decode(ctx, value)
	if err != nil {
		log.Warn("discarding corrupt session cache entry", "error", err)
		return nil, false
	}
	return record, true
}

// Clear removes the cached record.
func (c *Cache) Clear(ctx context.Context) (err error) {
	ctx, span := o11y.Trace(ctx, "sessioncache.Cache.Clear")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	return c.store.Delete(ctx, c.key)
}

func (c *Cache) decode(ctx context.Context, value []byte) (*proto.AuthRecord, error) {
	if c.sealer != nil {
		opened, err := c.sealer.Decrypt(ctx, string(value))
		if err != nil {
			return nil, fmt.Errorf("unseal: %w", err)
		}
		value = opened
	}

	b, err := base64.StdEncoding.DecodeString(string(value))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var record proto.AuthRecord
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if record.AccessToken == "" {
		return nil, fmt.Errorf("record has no access token")
	}
	return &record, nil
}

// Expiry returns the record's token expiry, falling back to the exp claim of the access token
// when the service reported none.
func Expiry(record *proto.AuthRecord) (time.Time, bool) {
	if exp, ok := record.Expiry(); ok {
		return exp, true
	}
	if record == nil {
		return time.Time{}, false
	}
	return TokenExpiry(record.AccessToken)
}

// Expired reports whether the resolved expiry is known and not after now.
func Expired(record *proto.AuthRecord, now time.Time) bool {
	exp, ok := Expiry(record)
	return ok && !now.Before(exp)
}

// TokenExpiry reads the exp claim of a JWT access token without verifying it.
func TokenExpiry(token string) (time.Time, bool) {
	tok, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}, false
	}
	exp := tok.Expiration()
	if exp.IsZero() {
		return time.Time{}, false
	}
	return exp, true
}
