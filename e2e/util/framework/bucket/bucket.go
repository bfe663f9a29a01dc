// Package bucket looks up objects in the mounted bucket through the GCS XML
// API, which speaks the S3 protocol when authenticated with HMAC keys.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"k8s.io/klog/v2"

	"github.com/carlory/gcsfuse-conformance/pkg/config"
)

// ErrObjectNotFound is returned when the object does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// S3API interface for dependency injection and testing
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client reads object metadata from one bucket.
type Client struct {
	s3     S3API
	bucket string
}

// Enabled reports whether the bucket checks can run: a bucket name is
// configured and HMAC credentials are present in the environment.
func Enabled(cfg config.Bucket) bool {
	_, _, ok := config.HMACCredentials()
	return cfg.Name != "" && ok
}

// New builds a client from the bucket configuration and the HMAC
// credentials found in the environment.
func New(ctx context.Context, cfg config.Bucket) (*Client, error) {
	accessKeyID, secret, ok := config.HMACCredentials()
	if !ok {
		return nil, fmt.Errorf("HMAC credentials are required in %s and %s", config.HMACAccessKeyIDEnvVar, config.HMACSecretEnvVar)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secret, "")),
	}
	if cfg.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}

	return NewWithAPI(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	}), cfg.Name), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(api S3API, bucket string) *Client {
	return &Client{s3: api, bucket: bucket}
}

// Bucket is the name of the bucket the client reads from.
func (c *Client) Bucket() string {
	return c.bucket
}

// ObjectSize returns the size of the object stored under key.
func (c *Client) ObjectSize(ctx context.Context, key string) (int64, error) {
	key = strings.TrimPrefix(key, "/")
	klog.V(4).Infof("Looking up object gs://%s/%s", c.bucket, key)
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return 0, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, c.bucket, key)
		}
		return 0, fmt.Errorf("failed to look up object gs://%s/%s: %w", c.bucket, key, err)
	}
	size := aws.ToInt64(out.ContentLength)
	klog.V(4).Infof("Object gs://%s/%s has %d bytes", c.bucket, key, size)
	return size, nil
}

// ObjectKey maps a file under the mount path to its object key.
func ObjectKey(mountPath, file string) (string, error) {
	prefix := strings.TrimSuffix(mountPath, "/") + "/"
	if !strings.HasPrefix(file, prefix) {
		return "", fmt.Errorf("file %s is not under mount path %s", file, mountPath)
	}
	return strings.TrimPrefix(file, prefix), nil
}
