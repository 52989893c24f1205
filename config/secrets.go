package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveSecrets replaces values that reference an AWS Secrets Manager secret with the secret
// contents. Values already set inline are left untouched.
func (cfg *Config) ResolveSecrets(ctx context.Context, client SecretsClient) error {
	if cfg.Compare.GeminiAPIKey == "" && cfg.Compare.GeminiAPIKeySecret != "" {
		v, err := getSecret(ctx, client, cfg.Compare.GeminiAPIKeySecret)
		if err != nil {
			return fmt.Errorf("resolve compare.gemini_api_key_secret: %w", err)
		}
		cfg.Compare.GeminiAPIKey = v
	}
	if cfg.Upload.Preset == "" && cfg.Upload.PresetSecret != "" {
		v, err := getSecret(ctx, client, cfg.Upload.PresetSecret)
		if err != nil {
			return fmt.Errorf("resolve upload.preset_secret: %w", err)
		}
		cfg.Upload.Preset = v
	}
	return nil
}

// NeedsSecrets reports whether ResolveSecrets has anything to fetch.
func (cfg *Config) NeedsSecrets() bool {
	return (cfg.Compare.GeminiAPIKey == "" && cfg.Compare.GeminiAPIKeySecret != "") ||
		(cfg.Upload.Preset == "" && cfg.Upload.PresetSecret != "")
}

func getSecret(ctx context.Context, client SecretsClient, secretID string) (string, error) {
	if client == nil {
		return "", fmt.Errorf("secrets client is not configured")
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("get secret: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret is nil")
	}
	return *out.SecretString, nil
}
