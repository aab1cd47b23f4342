// Package assets stores uploaded media in an S3 compatible bucket.
package assets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/myeasypage/easypage/pkg/model"
)

const keyPrefix = "owners/"

var extensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"image/svg+xml":   ".svg",
	"application/pdf": ".pdf",
}

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PublicBaseURL is the URL prefix assets are served from, e.g. a CDN.
	PublicBaseURL string
	UploadExpiry  time.Duration
}

// Upload is a presigned upload slot for one asset.
type Upload struct {
	Key       string
	UploadURL string
	AssetURL  string
	ExpiresAt time.Time
}

type deleteAPI interface {
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Store struct {
	client  deleteAPI
	presign presignAPI
	bucket  string
	baseURL string
	expiry  time.Duration
}

func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, s3.NewPresignClient(client), cfg), nil
}

func newS3Store(client deleteAPI, presign presignAPI, cfg Config) *S3Store {
	expiry := cfg.UploadExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &S3Store{
		client:  client,
		presign: presign,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		expiry:  expiry,
	}
}

// URLFor returns the public URL of key.
func (s *S3Store) URLFor(key string) string {
	return s.baseURL + "/" + key
}

// KeyFromURL returns the object key when value is a URL of an asset this
// store owns.
func (s *S3Store) KeyFromURL(value string) (string, bool) {
	prefix := s.baseURL + "/" + keyPrefix
	if !strings.HasPrefix(value, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(value, s.baseURL+"/")
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	if key == keyPrefix {
		return "", false
	}
	return key, true
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting asset %s: %w", key, err)
	}
	return nil
}

// PresignUpload returns a presigned PUT for a new object owned by ownerID.
func (s *S3Store) PresignUpload(ctx context.Context, ownerID uint, contentType string) (Upload, error) {
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		return Upload{}, model.NewError(model.KindUnprocessable, fmt.Sprintf("unsupported content type %q", contentType))
	}

	d := time.Now().UTC()
	key := fmt.Sprintf("%s%d/%d/%02d/%v%s", keyPrefix, ownerID, d.Year(), d.Month(), uuid.New(), ext)

	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return Upload{}, model.WrapError(err, model.KindUpstream, "could not prepare upload")
	}

	return Upload{
		Key:       key,
		UploadURL: req.URL,
		AssetURL:  s.URLFor(key),
		ExpiresAt: d.Add(s.expiry),
	}, nil
}
