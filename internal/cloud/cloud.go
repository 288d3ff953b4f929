// Package cloud holds the AWS integrations of a tuning run: uploading the
// experiment outputs to S3 and resolving the database URL from Secrets
// Manager.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// LoadConfig loads the default AWS configuration, optionally pinned to a
// region.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies experiment files to s3://Bucket/Prefix/.
type Uploader struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	// Concurrency bounds parallel uploads. Zero means 4.
	Concurrency int
}

// Upload puts every file under its base name and returns the object keys.
func (u *Uploader) Upload(ctx context.Context, files []string) ([]string, error) {
	if u.Bucket == "" {
		return nil, fmt.Errorf("upload: no bucket")
	}
	limit := u.Concurrency
	if limit <= 0 {
		limit = 4
	}

	keys := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, file := range files {
		i, file := i, file
		keys[i] = path.Join(strings.Trim(u.Prefix, "/"), filepath.Base(file))
		g.Go(func() error {
			return u.put(gctx, file, keys[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	klog.InfoS("Uploaded experiment outputs", "bucket", u.Bucket, "prefix", u.Prefix, "files", len(files))
	return keys, nil
}

func (u *Uploader) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.Bucket, key, err)
	}
	return nil
}

// GetSecretValueAPI is the subset of the Secrets Manager client used here.
type GetSecretValueAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveSecret returns the secret string. A JSON object secret yields its
// "database_url" or "url" field.
func ResolveSecret(ctx context.Context, api GetSecretValueAPI, secretID string) (string, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", secretID, err)
	}
	raw := strings.TrimSpace(aws.ToString(out.SecretString))
	if raw == "" {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	for _, k := range []string{"database_url", "url"} {
		if v, ok := fields[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("secret %s has no database_url field", secretID)
}
