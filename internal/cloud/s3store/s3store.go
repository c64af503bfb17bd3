// Package s3store implements cloud.ObjectStorage on S3 or any S3 compatible
// endpoint.
package s3store

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mx-space/cloud/internal/cloud"
	"github.com/mx-space/cloud/internal/config"
)

const defaultContentType = "application/octet-stream"

type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ cloud.ObjectStorage = (*Store)(nil)

// New builds a Store from opts. optFns are applied to the S3 client options
// last.
func New(opts config.S3Options, optFns ...func(*s3.Options)) (*Store, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	region := strings.TrimSpace(opts.Region)
	accessKey := strings.TrimSpace(opts.AccessKeyID)
	secretKey := strings.TrimSpace(opts.SecretAccessKey)
	if bucket == "" || region == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket/region/access_key_id/secret_access_key are required")
	}

	s3opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		// S3 compatible services reject the default trailing checksums.
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
		UsePathStyle:               opts.PathStyleAccess,
	}

	if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		endpoint = strings.TrimSuffix(endpoint, "/")
		parsed, err := url.Parse(endpoint)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid s3 endpoint: %s", endpoint)
		}
		s3opts.BaseEndpoint = aws.String(endpoint)
		// Custom endpoints rarely support virtual-hosted buckets.
		s3opts.UsePathStyle = true
	}

	client := s3.New(s3opts, optFns...)
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
	}, nil
}

// Key returns the object key used for p.
func (s *Store) Key(p string) string {
	key := cloud.NormalizeObjectKey(p)
	if s.prefix == "" || key == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *Store) PutObject(ctx context.Context, p, content string) error {
	const op = "putObject"
	key := s.Key(p)
	if key == "" {
		return cloud.Errorf(cloud.KindStorage, op, p, "invalid object key")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(contentTypeOf(key)),
	})
	if err != nil {
		return cloud.Wrap(cloud.KindStorage, op, p, err)
	}
	return nil
}

func contentTypeOf(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return defaultContentType
}
