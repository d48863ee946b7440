// Package config loads warehouse settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"solvault/internal/store/remote"
)

type Config struct {
	LocalRoot string
	Remote    remote.Config
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LocalRoot: resolveLocalRoot(),
		Remote: remote.Config{
			Endpoint:   strings.TrimSpace(os.Getenv("SOLVAULT_S3_ENDPOINT")),
			Region:     firstNonEmpty(strings.TrimSpace(os.Getenv("SOLVAULT_S3_REGION")), "us-east-1"),
			AccessKey:  firstNonEmpty(strings.TrimSpace(os.Getenv("SOLVAULT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
			SecretKey:  firstNonEmpty(strings.TrimSpace(os.Getenv("SOLVAULT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
			Bucket:     firstNonEmpty(strings.TrimSpace(os.Getenv("SOLVAULT_S3_BUCKET")), "solvault-artifacts"),
			UseSSL:     resolveUseSSL(),
			RootPrefix: firstNonEmpty(strings.TrimSpace(os.Getenv("SOLVAULT_S3_ROOT_PREFIX")), remote.DefaultRootPrefix),
		},
	}

	assumeRole, err := resolveAssumeRole()
	if err != nil {
		return nil, err
	}
	cfg.Remote.AssumeRole = assumeRole
	return cfg, nil
}

func resolveLocalRoot() string {
	if root := strings.TrimSpace(os.Getenv("SOLVAULT_LOCAL_ROOT")); root != "" {
		return root
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".solvault")
	}
	return ".solvault"
}

func resolveUseSSL() bool {
	raw := strings.TrimSpace(os.Getenv("SOLVAULT_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func resolveAssumeRole() (*remote.AssumeRoleConfig, error) {
	roleARN := strings.TrimSpace(os.Getenv("SOLVAULT_ASSUME_ROLE_ARN"))
	if roleARN == "" {
		return nil, nil
	}
	ar := &remote.AssumeRoleConfig{
		RoleARN:     roleARN,
		ExternalID:  strings.TrimSpace(os.Getenv("SOLVAULT_ASSUME_ROLE_EXTERNAL_ID")),
		SessionName: firstNonEmpty(strings.TrimSpace(os.Getenv("SOLVAULT_ASSUME_ROLE_SESSION_NAME")), "solvault"),
	}
	if raw := strings.TrimSpace(os.Getenv("SOLVAULT_ASSUME_ROLE_SESSION_DURATION")); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("SOLVAULT_ASSUME_ROLE_SESSION_DURATION %q is not a number of seconds", raw)
		}
		ar.DurationSeconds = seconds
	}
	return ar, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
