// Package objectstore holds attachment bytes in S3-compatible storage
// (MinIO in development). The rest of the service only ever sees opaque
// object keys.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Config carries the connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	PresignTTL time.Duration
}

// S3 implements blob storage on top of the AWS S3 API.
type S3 struct {
	client     *s3.S3
	bucket     string
	presignTTL time.Duration
}

// New builds an S3 client. A custom endpoint switches to path-style
// addressing, which MinIO requires.
func New(cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = scheme + "://" + endpoint
		}
		awsCfg = awsCfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if cfg.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "objectstore: new session")
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3{client: s3.New(sess), bucket: cfg.Bucket, presignTTL: ttl}, nil
}

// BuildKey derives a collision-free object key for an attachment, keeping
// the original extension so downloads get a sensible filename.
func BuildKey(taskID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("tasks/%s/%s%s", taskID, strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
}

// Put stores one object.
func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	return errors.Wrapf(err, "objectstore: put %s", key)
}

// Get fetches one object's bytes.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: get %s", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: read %s", key)
	}
	return data, nil
}

// Delete removes one object. Deleting an absent key is not an error on S3.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "objectstore: delete %s", key)
}

// PresignGet returns a time-limited download URL that forces the original
// filename on the browser.
func (s *S3) PresignGet(key, filename string) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filename)),
	})
	url, err := req.Presign(s.presignTTL)
	if err != nil {
		return "", errors.Wrapf(err, "objectstore: presign %s", key)
	}
	return url, nil
}
