package storage

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"duckframe/internal/domain"
)

// Scheme is the URI scheme S3 stores are bound under.
const Scheme = "s3"

var (
	bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	regionPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// S3Store is a credentialed S3 client for one bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	creds  domain.StoreCredentials
}

var _ domain.ObjectStore = (*S3Store)(nil)

// NewS3Store builds a client for bucket. Malformed bucket names, regions,
// endpoints or URL styles fail with a StorageConfig error.
func NewS3Store(bucket string, creds domain.StoreCredentials) (*S3Store, error) {
	if err := validateBucket(bucket); err != nil {
		return nil, domain.ErrStorageConfig(bucket, err)
	}
	if !regionPattern.MatchString(creds.Region) {
		return nil, domain.ErrStorageConfig(bucket, fmt.Errorf("invalid region %q", creds.Region))
	}

	opts := s3.Options{
		Region:      creds.Region,
		Credentials: credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
	}
	switch creds.URLStyle {
	case "", "vhost":
	case "path":
		opts.UsePathStyle = true
	default:
		return nil, domain.ErrStorageConfig(bucket, fmt.Errorf("invalid URL style %q (expected path or vhost)", creds.URLStyle))
	}
	if creds.Endpoint != "" {
		endpoint, err := normalizeEndpoint(creds.Endpoint)
		if err != nil {
			return nil, domain.ErrStorageConfig(bucket, err)
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Store{client: s3.New(opts), bucket: bucket, creds: creds}, nil
}

// URI returns s3://bucket.
func (s *S3Store) URI() string {
	return Scheme + "://" + s.bucket
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Credentials returns the resolved credentials.
func (s *S3Store) Credentials() domain.StoreCredentials {
	return s.creds
}

// Client returns the underlying S3 client.
func (s *S3Store) Client() *s3.Client {
	return s.client
}

// HeadBucket checks that the bucket exists and the credentials can reach it.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %q: %w", s.bucket, err)
	}
	return nil
}

func validateBucket(bucket string) error {
	if !bucketPattern.MatchString(bucket) {
		return fmt.Errorf("invalid bucket name %q", bucket)
	}
	if strings.Contains(bucket, "..") {
		return fmt.Errorf("invalid bucket name %q: consecutive dots", bucket)
	}
	return nil
}

// normalizeEndpoint returns endpoint as an absolute URL, defaulting to https
// when no scheme is given.
func normalizeEndpoint(endpoint string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
