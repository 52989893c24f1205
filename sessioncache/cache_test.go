package sessioncache_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xsequence/identity-verifier/config"
	"github.com/0xsequence/identity-verifier/data"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/sessioncache"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/benbjohnson/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *proto.AuthRecord {
	return &proto.AuthRecord{
		AccessToken: "at_0123456789",
		DigitalID:   "did:verifier:ab12",
		Identity:    &proto.UserIdentity{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		RawPayload:  json.RawMessage(`{"method":"biometric"}`),
		CapturedAt:  1700000000000,
		TokenExpiry: "2030-01-01T00:00:00Z",
	}
}

func TestCacheBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	memory, err := sessioncache.NewMemoryStore(4)
	require.NoError(t, err)

	backends := map[string]sessioncache.Store{
		"memory":   memory,
		"file":     sessioncache.NewFileStore(filepath.Join(t.TempDir(), "session", "cache.json")),
		"redis":    sessioncache.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "identity-verifier"),
		"dynamodb": sessioncache.NewDynamoStore(data.NewAuthRecordTable(newMemoryDB(), "AuthRecords"), "kiosk-1", clock.NewMock()),
	}

	for name, store := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cache := sessioncache.New(store)

			_, found := cache.Read(ctx)
			assert.False(t, found)

			require.NoError(t, cache.Persist(ctx, testRecord()))

			second := testRecord()
			second.AccessToken = "at_second_record"
			require.NoError(t, cache.Persist(ctx, second))

			record, found := cache.Read(ctx)
			require.True(t, found)
			assert.Equal(t, second, record)

			require.NoError(t, cache.Clear(ctx))
			_, found = cache.Read(ctx)
			assert.False(t, found)

			// clearing an empty cache is not an error
			require.NoError(t, cache.Clear(ctx))
		})
	}

	assert.False(t, mr.Exists("identity-verifier:biometricAuthToken"))
}

func TestCacheEncoding(t *testing.T) {
	ctx := context.Background()
	store, err := sessioncache.NewMemoryStore(4)
	require.NoError(t, err)

	cache := sessioncache.New(store)
	require.NoError(t, cache.Persist(ctx, testRecord()))

	value, found, err := store.Get(ctx, "biometricAuthToken")
	require.NoError(t, err)
	require.True(t, found)

	b, err := base64.StdEncoding.DecodeString(string(value))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.Equal(t, "at_0123456789", fields["accessToken"])
	assert.Equal(t, "did:verifier:ab12", fields["digitalId"])
	assert.Equal(t, float64(1700000000000), fields["timestamp"])
	assert.Equal(t, "2030-01-01T00:00:00Z", fields["tokenExpiry"])
	assert.Contains(t, fields, "userInfo")
	assert.Contains(t, fields, "biometricData")
}

func TestCacheCustomKey(t *testing.T) {
	ctx := context.Background()
	store, err := sessioncache.NewMemoryStore(4)
	require.NoError(t, err)

	cache := sessioncache.New(store, sessioncache.WithKey("kioskAuth"))
	require.NoError(t, cache.Persist(ctx, testRecord()))

	_, found, err := store.Get(ctx, "kioskAuth")
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = store.Get(ctx, sessioncache.DefaultKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheCorruptEntries(t *testing.T) {
	values := map[string]string{
		"not base64":      "%%%",
		"not json":        base64.StdEncoding.EncodeToString([]byte("{")),
		"no access token": base64.StdEncoding.EncodeToString([]byte(`{"digitalId":"did"}`)),
	}

	for name, value := range values {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, err := sessioncache.NewMemoryStore(4)
			require.NoError(t, err)
			require.NoError(t, store.Set(ctx, sessioncache.DefaultKey, []byte(value)))

			record, found := sessioncache.New(store).Read(ctx)
			assert.False(t, found)
			assert.Nil(t, record)
		})
	}
}

func TestCacheCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	cache := sessioncache.New(sessioncache.NewFileStore(path))
	_, found := cache.Read(ctx)
	assert.False(t, found)

	require.NoError(t, cache.Persist(ctx, testRecord()))
	record, found := cache.Read(ctx)
	require.True(t, found)
	assert.Equal(t, "at_0123456789", record.AccessToken)
}

func TestCachePersistRequiresToken(t *testing.T) {
	store, err := sessioncache.NewMemoryStore(4)
	require.NoError(t, err)
	cache := sessioncache.New(store)

	err = cache.Persist(context.Background(), &proto.AuthRecord{DigitalID: "did"})
	require.ErrorIs(t, err, proto.ErrNotAuthenticated)
	err = cache.Persist(context.Background(), nil)
	require.ErrorIs(t, err, proto.ErrNotAuthenticated)
}

func TestCacheSealed(t *testing.T) {
	ctx := context.Background()
	store, err := sessioncache.NewMemoryStore(4)
	require.NoError(t, err)

	sealer := &reverseCryptor{}
	cache := sessioncache.New(store, sessioncache.WithSealer(sealer))
	require.NoError(t, cache.Persist(ctx, testRecord()))

	value, _, err := store.Get(ctx, sessioncache.DefaultKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(value), "sealed:"))

	record, found := cache.Read(ctx)
	require.True(t, found)
	assert.Equal(t, testRecord(), record)

	sealer.fail = true
	_, found = cache.Read(ctx)
	assert.False(t, found)
	require.Error(t, cache.Persist(ctx, testRecord()))
}

func TestTokenExpiryFallback(t *testing.T) {
	ctx := context.Background()
	exp := time.Date(2031, 5, 4, 3, 2, 1, 0, time.UTC)

	tok, err := jwt.NewBuilder().Subject("did:verifier:ab12").Expiration(exp).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	require.NoError(t, err)

	got, ok := sessioncache.TokenExpiry(string(signed))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = sessioncache.TokenExpiry("at_0123456789")
	assert.False(t, ok)

	store, err := sessioncache.NewMemoryStore(4)
	require.NoError(t, err)
	cache := sessioncache.New(store)

	record := testRecord()
	record.AccessToken = string(signed)
	record.TokenExpiry = ""
	require.NoError(t, cache.Persist(ctx, record))

	stored, found := cache.Read(ctx)
	require.True(t, found)
	assert.Equal(t, record, stored, "stored record round-trips unchanged")
	assert.Empty(t, stored.TokenExpiry)

	resolved, ok := sessioncache.Expiry(stored)
	require.True(t, ok)
	assert.True(t, exp.Equal(resolved))
	assert.True(t, sessioncache.Expired(stored, exp))
	assert.False(t, sessioncache.Expired(stored, exp.Add(-time.Second)))

	reported := testRecord()
	reported.AccessToken = string(signed)
	resolved, ok = sessioncache.Expiry(reported)
	require.True(t, ok)
	assert.Equal(t, "2030-01-01T00:00:00Z", resolved.UTC().Format(time.RFC3339), "reported expiry wins over the claim")

	opaque := testRecord()
	opaque.TokenExpiry = ""
	_, ok = sessioncache.Expiry(opaque)
	assert.False(t, ok)
	assert.False(t, sessioncache.Expired(opaque, exp))
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	metrics := o11y.NewMetrics()

	cfg, err := config.Parse(`
[session_cache]
backend = "redis"

[redis]
host = "` + strings.Split(mr.Addr(), ":")[0] + `"
port = ` + strings.Split(mr.Addr(), ":")[1] + `
namespace = "kiosk"
`)
	require.NoError(t, err)

	store, err := sessioncache.Open(cfg, nil, metrics)
	require.NoError(t, err)

	cache := sessioncache.New(store)
	require.NoError(t, cache.Persist(context.Background(), testRecord()))
	assert.True(t, mr.Exists("kiosk:biometricAuthToken"))

	count, err := testutil.GatherAndCount(metrics.Registry(), "verifier_session_cache_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	cfg.SessionCache.Backend = "dynamodb"
	_, err = sessioncache.Open(cfg, nil, metrics)
	require.Error(t, err)

	cfg.SessionCache.Backend = "tape"
	_, err = sessioncache.Open(cfg, nil, metrics)
	require.Error(t, err)
}

type reverseCryptor struct {
	fail bool
}

func (c *reverseCryptor) CryptorID() string { return "reverse" }

func (c *reverseCryptor) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	if c.fail {
		return "", errors.New("sealer unavailable")
	}
	return "sealed:" + reverse(string(plaintext)), nil
}

func (c *reverseCryptor) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	if c.fail {
		return nil, errors.New("sealer unavailable")
	}
	s, ok := strings.CutPrefix(ciphertext, "sealed:")
	if !ok {
		return nil, errors.New("not sealed")
	}
	return []byte(reverse(s)), nil
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

type memoryDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMemoryDB() *memoryDB {
	return &memoryDB{items: map[string]map[string]types.AttributeValue{}}
}

func itemID(key map[string]types.AttributeValue) string {
	return key["ID"].(*types.AttributeValueMemberS).Value
}

func (m *memoryDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: m.items[itemID(params.Key)]}, nil
}

func (m *memoryDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemID(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memoryDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemID(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}
