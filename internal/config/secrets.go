package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// LoadSecrets fetches API keys from Secrets Manager under prefix and
// sets them as environment variables when not already present. Any
// secret that does not exist is skipped rather than treated as fatal;
// the caller's subsequent config.Load still fails if no usable key ends
// up set.
func LoadSecrets(ctx context.Context, awsCfg aws.Config, prefix string, logger *slog.Logger) error {
	client := secretsmanager.NewFromConfig(awsCfg)

	secrets := map[string]string{
		"GEMINI_API_KEY_1": prefix + "GEMINI_API_KEY_1",
		"GEMINI_API_KEY":   prefix + "GEMINI_API_KEY",
	}

	for envVar, secretID := range secrets {
		if os.Getenv(envVar) != "" {
			continue
		}
		result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
		if err != nil {
			logger.Info("secret not found", "secret_id", secretID, "error", err)
			continue
		}
		if result.SecretString != nil {
			if err := os.Setenv(envVar, *result.SecretString); err != nil {
				return fmt.Errorf("config: set env %s: %w", envVar, err)
			}
			logger.Info("loaded secret", "secret_id", secretID)
		}
	}
	return nil
}
