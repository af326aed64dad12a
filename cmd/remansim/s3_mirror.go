package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"remansim/internal/persistence/r2s3"
)

// buildMirror returns nil when REMANSIM_S3_MIRROR is off.
func buildMirror(ctx context.Context, dataDir string, logger *zap.Logger) (*r2s3.Mirror, error) {
	if !envBool("REMANSIM_S3_MIRROR", false) {
		return nil, nil
	}

	bucket := strings.TrimSpace(os.Getenv("REMANSIM_S3_BUCKET"))
	if bucket == "" {
		return nil, fmt.Errorf("REMANSIM_S3_MIRROR=true but REMANSIM_S3_BUCKET is empty")
	}
	client, err := r2s3.New(ctx, r2s3.Config{
		Bucket:          bucket,
		Region:          os.Getenv("REMANSIM_S3_REGION"),
		Endpoint:        os.Getenv("REMANSIM_S3_ENDPOINT"),
		AccessKeyID:     strings.TrimSpace(os.Getenv("REMANSIM_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("REMANSIM_S3_SECRET_ACCESS_KEY")),
		PathStyle:       envBool("REMANSIM_S3_PATH_STYLE", false),
	})
	if err != nil {
		return nil, err
	}

	return r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{
		Prefix:  strings.TrimSpace(os.Getenv("REMANSIM_S3_PREFIX")),
		Workers: envInt("REMANSIM_S3_UPLOAD_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
