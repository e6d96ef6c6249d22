// Package storage persists uploaded media files in an S3-compatible
// object store and hands back a durable public URL.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Uploader stores a local file and returns its durable URL. The local
// file is removed after the attempt regardless of the outcome.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Region          string
	Endpoint        string // empty for AWS, set for MinIO and friends
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	UploadTimeout   time.Duration
}

type S3Uploader struct {
	client        s3PutAPI
	bucket        string
	publicBaseURL string
	timeout       time.Duration
}

func NewS3Uploader(ctx context.Context, cfg Config) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		timeout:       cfg.UploadTimeout,
	}, nil
}

func objectKey(localPath string) string {
	d := time.Now()
	return fmt.Sprintf("media/%d/%02d/%02d/%s%s", d.Year(), int(d.Month()), d.Day(), uuid.New(), filepath.Ext(localPath))
}

func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	defer func() {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("path", localPath).Warn("Failed to remove local temp file")
		}
	}()

	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	key := objectKey(localPath)
	if _, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{"bucket": u.bucket, "key": key}).Debug("File uploaded")
	return u.publicBaseURL + "/" + key, nil
}
