package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xsequence/identity-verifier/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse(`
[endpoints]
verification_api = "https://verify.example.com/api"
`)
	require.NoError(t, err)

	assert.Equal(t, config.LocalMode, cfg.Mode)
	assert.Equal(t, "local", cfg.Service.Mode)
	assert.EqualValues(t, 8080, cfg.Service.Port)
	assert.Equal(t, config.StrategyPolling, cfg.Verification.Strategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Verification.Debounce)
	assert.Equal(t, 300*time.Second, cfg.Verification.Countdown)
	assert.Equal(t, 1*time.Second, cfg.Verification.StartDelay)
	assert.Equal(t, 2*time.Second, cfg.Verification.PollInterval)
	assert.Equal(t, 150, cfg.Verification.MaxPollAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Verification.ScanInterval)
	assert.Equal(t, "memory", cfg.SessionCache.Backend)
	assert.Equal(t, "biometricAuthToken", cfg.SessionCache.Key)
	assert.Equal(t, 0.75, cfg.Compare.Threshold)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := config.Parse(`
[service]
mode = "prod"
port = 9000

[verification]
strategy = "oneshot"
debounce = "250ms"
countdown = "2m"

[session_cache]
backend = "file"
path = "/tmp/session.json"
`)
	require.NoError(t, err)

	assert.Equal(t, config.ProductionMode, cfg.Mode)
	assert.Equal(t, "production", cfg.Service.Mode)
	assert.EqualValues(t, 9000, cfg.Service.Port)
	assert.Equal(t, config.StrategyOneShot, cfg.Verification.Strategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Verification.Debounce)
	assert.Equal(t, 2*time.Minute, cfg.Verification.Countdown)
	assert.Equal(t, "/tmp/session.json", cfg.SessionCache.Path)
}

func TestPollLimit(t *testing.T) {
	cfg, err := config.Parse("")
	require.NoError(t, err)

	v := cfg.Verification
	assert.Equal(t, 301*time.Second, v.PollBudget())
	assert.False(t, v.PollLimitReachable(), "countdown expires the session first")

	v.Countdown = 10 * time.Minute
	assert.True(t, v.PollLimitReachable())

	v.MaxPollAttempts = 10
	v.Countdown = 0
	assert.Equal(t, 21*time.Second, v.PollBudget())
	assert.True(t, v.PollLimitReachable())

	v.MaxPollAttempts = -1
	assert.Zero(t, v.PollBudget())
	assert.False(t, v.PollLimitReachable())
}

func TestParseInvalid(t *testing.T) {
	testCases := map[string]string{
		"mode": `
[service]
mode = "staging"
`,
		"strategy": `
[verification]
strategy = "websocket"
`,
		"file backend without path": `
[session_cache]
backend = "file"
`,
		"dynamodb backend without table": `
[session_cache]
backend = "dynamodb"
`,
		"seal without key": `
[session_cache]
seal = true
`,
		"compare provider": `
[compare]
provider = "rekognition"
`,
	}

	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse(input)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
region = "us-east-1"

[service]
mode = "dev"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DevelopmentMode, cfg.Mode)
	assert.Equal(t, "us-east-1", cfg.Region)

	t.Setenv("CONFIG", path)
	cfg, err = config.New()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Service.Mode)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

type mockSecrets struct {
	mock.Mock
}

func (m *mockSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(params.SecretId))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretsmanager.GetSecretValueOutput), args.Error(1)
}

func TestResolveSecrets(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves referenced secrets", func(t *testing.T) {
		cfg, err := config.Parse(`
[compare]
gemini_api_key_secret = "gemini-key"

[upload]
preset_secret = "upload-preset"
`)
		require.NoError(t, err)
		require.True(t, cfg.NeedsSecrets())

		secrets := &mockSecrets{}
		secrets.On("GetSecretValue", ctx, "gemini-key").
			Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String("AIza-test")}, nil).Once()
		secrets.On("GetSecretValue", ctx, "upload-preset").
			Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String("unsigned_preset")}, nil).Once()

		require.NoError(t, cfg.ResolveSecrets(ctx, secrets))
		assert.Equal(t, "AIza-test", cfg.Compare.GeminiAPIKey)
		assert.Equal(t, "unsigned_preset", cfg.Upload.Preset)
		assert.False(t, cfg.NeedsSecrets())
		secrets.AssertExpectations(t)
	})

	t.Run("inline values win", func(t *testing.T) {
		cfg, err := config.Parse(`
[compare]
gemini_api_key = "inline"
gemini_api_key_secret = "gemini-key"
`)
		require.NoError(t, err)

		secrets := &mockSecrets{}
		require.NoError(t, cfg.ResolveSecrets(ctx, secrets))
		assert.Equal(t, "inline", cfg.Compare.GeminiAPIKey)
		secrets.AssertNotCalled(t, "GetSecretValue", mock.Anything, mock.Anything)
	})

	t.Run("propagates lookup errors", func(t *testing.T) {
		cfg, err := config.Parse(`
[compare]
gemini_api_key_secret = "gemini-key"
`)
		require.NoError(t, err)

		secrets := &mockSecrets{}
		secrets.On("GetSecretValue", ctx, "gemini-key").Return(nil, errors.New("access denied"))

		err = cfg.ResolveSecrets(ctx, secrets)
		require.ErrorContains(t, err, "access denied")
	})
}
