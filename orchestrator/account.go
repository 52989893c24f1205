package orchestrator

import (
	"context"
	"time"

	"github.com/0xsequence/identity-verifier/api"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/sessioncache"
	"github.com/benbjohnson/clock"
)

type AccountClient interface {
	Register(ctx context.Context, params *proto.RegistrationParams) (*api.AuthResult, error)
	Login(ctx context.Context, params *proto.LoginParams) (*api.AuthResult, error)
	LoginWithDigitalID(ctx context.Context, digitalID string) (*api.AuthResult, error)
	CompleteLogin(ctx context.Context, params *proto.LoginParams) (*api.AuthResult, error)
	VerifyBiometric(ctx context.Context, accessToken string, params *proto.LoginParams) (*api.AuthResult, error)
	Profile(ctx context.Context, accessToken string) (*api.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
}

// SessionCache is the persisted store of the authenticated session.
type SessionCache interface {
	Persist(ctx context.Context, record *proto.AuthRecord) error
	Read(ctx context.Context) (*proto.AuthRecord, bool)
	Clear(ctx context.Context) error
}

// Account runs the account operations of the service and keeps the session cache in step with
// them: responses carrying an access token are persisted and logout erases the record.
type Account struct {
	client AccountClient
	cache  SessionCache
	clock  clock.Clock
}

func NewAccount(client AccountClient, cache SessionCache, clk clock.Clock) *Account {
	if clk == nil {
		clk = clock.New()
	}
	return &Account{client: client, cache: cache, clock: clk}
}

func (a *Account) Register(ctx context.Context, params *proto.RegistrationParams) (*api.AuthResult, error) {
	if params == nil || !params.Method.IsValid() {
		return nil, proto.ErrMethodRequired
	}
	if err := params.UserInfo.Validate(); err != nil {
		return nil, proto.ErrInvalidInput.WithCause(err)
	}
	if params.Method.Requires(proto.ArtifactKind_Fingerprint) && params.BiometricData == "" {
		return nil, proto.ErrFingerprintMissing
	}
	if params.Method.Requires(proto.ArtifactKind_Image) && params.ImageURL == "" {
		return nil, proto.ErrFaceMissing
	}
	res, err := a.client.Register(ctx, params)
	if err != nil {
		return nil, err
	}
	return res, a.persist(ctx, res)
}

// Login starts a credential login. The service may answer with a session directly or ask for a
// biometric completion step.
func (a *Account) Login(ctx context.Context, params *proto.LoginParams) (*api.AuthResult, error) {
	if params == nil || (params.DigitalID == "" && params.Email == "") {
		return nil, proto.ErrInvalidInput.WithMessage("Digital ID or e-mail is required")
	}
	res, err := a.client.Login(ctx, params)
	if err != nil {
		return nil, err
	}
	return res, a.persist(ctx, res)
}

func (a *Account) LoginWithDigitalID(ctx context.Context, digitalID string) (*api.AuthResult, error) {
	if digitalID == "" {
		return nil, proto.ErrInvalidInput.WithMessage("Digital ID is required")
	}
	res, err := a.client.LoginWithDigitalID(ctx, digitalID)
	if err != nil {
		return nil, err
	}
	return res, a.persist(ctx, res)
}

func (a *Account) CompleteLogin(ctx context.Context, params *proto.LoginParams) (*api.AuthResult, error) {
	if params == nil || params.DigitalID == "" {
		return nil, proto.ErrInvalidInput.WithMessage("Digital ID is required")
	}
	res, err := a.client.CompleteLogin(ctx, params)
	if err != nil {
		return nil, err
	}
	return res, a.persist(ctx, res)
}

// VerifyBiometric re-verifies the stored session with a fresh capture.
func (a *Account) VerifyBiometric(ctx context.Context, params *proto.LoginParams) (*api.AuthResult, error) {
	record, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	res, err := a.client.VerifyBiometric(ctx, record.AccessToken, params)
	if err != nil {
		return nil, err
	}
	return res, a.persist(ctx, res)
}

func (a *Account) Profile(ctx context.Context) (*api.AuthResult, error) {
	record, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	return a.client.Profile(ctx, record.AccessToken)
}

// Logout ends the stored session. The cached record is erased even when the service call fails.
func (a *Account) Logout(ctx context.Context) error {
	record, ok := a.cache.Read(ctx)
	if !ok {
		return a.cache.Clear(ctx)
	}

	err := a.client.Logout(ctx, record.AccessToken)
	if err != nil {
		o11y.LoggerFromContext(ctx).Warn("logout request failed", "error", err)
	}
	if clearErr := a.cache.Clear(ctx); clearErr != nil {
		return clearErr
	}
	return err
}

// Current returns the stored session if it has not expired.
func (a *Account) Current(ctx context.Context) (*proto.AuthRecord, bool) {
	record, err := a.current(ctx)
	if err != nil {
		return nil, false
	}
	return record, true
}

func (a *Account) current(ctx context.Context) (*proto.AuthRecord, error) {
	record, ok := a.cache.Read(ctx)
	if !ok {
		return nil, proto.ErrNotAuthenticated
	}
	if sessioncache.Expired(record, a.clock.Now()) {
		exp, _ := sessioncache.Expiry(record)
		return nil, proto.ErrNotAuthenticated.WithCausef("stored session expired at %s", exp.UTC().Format(time.RFC3339))
	}
	return record, nil
}

func (a *Account) persist(ctx context.Context, res *api.AuthResult) error {
	if !res.HasToken() {
		return nil
	}
	record := &proto.AuthRecord{
		AccessToken: res.AccessToken,
		DigitalID:   res.DigitalID,
		Identity:    res.Identity,
		RawPayload:  res.Raw,
		CapturedAt:  a.clock.Now().UnixMilli(),
		TokenExpiry: string(res.TokenExpiry),
	}
	if record.DigitalID == "" && record.Identity != nil {
		record.DigitalID = record.Identity.DigitalID
	}
	return a.cache.Persist(ctx, record)
}
