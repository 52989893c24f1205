package orchestrator_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0xsequence/identity-verifier/api"
	"github.com/0xsequence/identity-verifier/api/mock"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/orchestrator"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/sessioncache"
	"github.com/benbjohnson/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initAccount(t *testing.T) (*mock.Backend, *orchestrator.Account, *sessioncache.Cache, *clock.Mock) {
	backend := mock.New()
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	store, err := sessioncache.NewMemoryStore(4)
	require.NoError(t, err)
	cache := sessioncache.New(store)

	mockClock := clock.NewMock()
	mockClock.Set(time.Now())
	account := orchestrator.NewAccount(api.NewClient(srv.URL, o11y.WrapClient(srv.Client())), cache, mockClock)
	return backend, account, cache, mockClock
}

func TestAccountRegister(t *testing.T) {
	ctx := context.Background()
	_, account, cache, mockClock := initAccount(t)

	_, err := account.Register(ctx, &proto.RegistrationParams{
		Method:   proto.VerificationMethod_Both,
		UserInfo: proto.UserIdentity{FirstName: "Aline"},
	})
	require.ErrorIs(t, err, proto.ErrFingerprintMissing)

	_, err = account.Register(ctx, &proto.RegistrationParams{Method: proto.VerificationMethod_Fingerprint, BiometricData: "fp"})
	require.ErrorIs(t, err, proto.ErrInvalidInput)

	res, err := account.Register(ctx, &proto.RegistrationParams{
		Method:        proto.VerificationMethod_Fingerprint,
		BiometricData: "fingerprint_1_abc",
		UserInfo:      proto.UserIdentity{FirstName: "Aline", LastName: "Uwase", Email: "aline@example.com"},
	})
	require.NoError(t, err)
	require.True(t, res.HasToken())

	record, ok := cache.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, res.AccessToken, record.AccessToken)
	assert.Equal(t, res.DigitalID, record.DigitalID)
	assert.Equal(t, "Aline Uwase", record.Identity.FullName())
	assert.Equal(t, mockClock.Now().UnixMilli(), record.CapturedAt)
	assert.NotEmpty(t, record.TokenExpiry)
	assert.JSONEq(t, string(res.Raw), string(record.RawPayload))

	current, ok := account.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, record, current)

	// the stored session expires with its token
	mockClock.Add(25 * time.Hour)
	_, ok = account.Current(ctx)
	assert.False(t, ok)
	_, err = account.Profile(ctx)
	require.ErrorIs(t, err, proto.ErrNotAuthenticated)
}

func TestAccountTokenClaimExpiry(t *testing.T) {
	ctx := context.Background()
	_, account, cache, mockClock := initAccount(t)

	exp := mockClock.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := jwt.NewBuilder().Subject("did:verifier:ab12").Expiration(exp).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	require.NoError(t, err)

	record := &proto.AuthRecord{AccessToken: string(signed), DigitalID: "did:verifier:ab12"}
	require.NoError(t, cache.Persist(ctx, record))

	current, ok := account.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, record, current)
	assert.Empty(t, current.TokenExpiry)

	mockClock.Add(time.Hour)
	_, ok = account.Current(ctx)
	assert.False(t, ok)
}

func TestAccountLoginFlow(t *testing.T) {
	ctx := context.Background()
	backend, account, cache, _ := initAccount(t)
	ident := backend.AddIdentity(mock.Identity{
		UserInfo: map[string]any{"firstName": "Aline", "lastName": "Uwase", "email": "aline@example.com"},
		Password: "s3cret",
	})

	_, err := account.LoginWithDigitalID(ctx, "")
	require.ErrorIs(t, err, proto.ErrInvalidInput)

	// the digital id step does not issue a session
	res, err := account.LoginWithDigitalID(ctx, ident.DigitalID)
	require.NoError(t, err)
	assert.False(t, res.HasToken())
	_, ok := cache.Read(ctx)
	assert.False(t, ok)

	res, err = account.CompleteLogin(ctx, &proto.LoginParams{
		DigitalID:     ident.DigitalID,
		Method:        proto.VerificationMethod_Fingerprint,
		BiometricData: "fingerprint_1_abc",
	})
	require.NoError(t, err)
	require.True(t, res.HasToken())

	record, ok := cache.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, ident.DigitalID, record.DigitalID)

	profile, err := account.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ident.DigitalID, profile.DigitalID)
	assert.NotEmpty(t, profile.LoginHistory)

	verified, err := account.VerifyBiometric(ctx, &proto.LoginParams{Method: proto.VerificationMethod_Fingerprint, BiometricData: "fingerprint_2_abc"})
	require.NoError(t, err)
	record, ok = cache.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, verified.AccessToken, record.AccessToken)

	require.NoError(t, account.Logout(ctx))
	_, ok = cache.Read(ctx)
	assert.False(t, ok)
	assert.Equal(t, 1, backend.Calls(api.PathLogout))

	// logging out without a session only clears the cache
	require.NoError(t, account.Logout(ctx))
	assert.Equal(t, 1, backend.Calls(api.PathLogout))
}

func TestAccountPasswordLogin(t *testing.T) {
	ctx := context.Background()
	backend, account, cache, _ := initAccount(t)
	backend.AddIdentity(mock.Identity{
		UserInfo: map[string]any{"firstName": "Aline", "email": "aline@example.com"},
		Password: "s3cret",
	})

	_, err := account.Login(ctx, &proto.LoginParams{})
	require.ErrorIs(t, err, proto.ErrInvalidInput)

	_, err = account.Login(ctx, &proto.LoginParams{Email: "aline@example.com", Password: "wrong"})
	require.ErrorIs(t, err, proto.ErrRejected)
	assert.Equal(t, "Invalid credentials", proto.Message(err))

	res, err := account.Login(ctx, &proto.LoginParams{Email: "aline@example.com", Password: "s3cret"})
	require.NoError(t, err)
	record, ok := cache.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, res.AccessToken, record.AccessToken)
}

func TestAccountLogoutClearsOnFailure(t *testing.T) {
	ctx := context.Background()
	_, account, cache, _ := initAccount(t)

	require.NoError(t, cache.Persist(ctx, &proto.AuthRecord{AccessToken: "at_revoked_elsewhere"}))

	err := account.Logout(ctx)
	require.Error(t, err)
	_, ok := cache.Read(ctx)
	assert.False(t, ok)
}
