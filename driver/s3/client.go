package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
)

// API is the subset of *s3.Client used by the provider.
type API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Client holds the S3 API of one bucket. The bucket is the host of the
// site: s3://bucket/key.
type Client struct {
	api      API
	uploader *manager.Uploader
	bucket   string
	log      logrus.FieldLogger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPI uses api instead of a client built from the configuration.
func WithAPI(api API) ClientOption {
	return func(c *Client) {
		c.api = api
	}
}

// NewClient creates the client of a bucket. Credentials in the address
// (s3://KEY:SECRET@bucket/) take precedence over the configured ones.
func NewClient(ctx context.Context, p vfskit.ClientParams, opts ...ClientOption) (*Client, error) {
	if p.Site.Host == "" {
		return nil, vfskit.NewPathError("connect", p.Site.String(), vfskit.ErrCodeConfiguration, "S3 bucket is required")
	}
	c := &Client{
		bucket: p.Site.Host,
		log:    p.Logger.WithField("bucket", p.Site.Host),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.api == nil {
		api, err := newAPI(ctx, p.Site, p.Config)
		if err != nil {
			return nil, &vfskit.PathError{Op: "connect", Path: p.Site.String(), Code: vfskit.ErrCodeConfiguration, Err: err}
		}
		c.api = api
	}
	c.uploader = manager.NewUploader(c.api)
	return c, nil
}

func newClient(ctx context.Context, p vfskit.ClientParams) (vfskit.Client, error) {
	return NewClient(ctx, p)
}

func newAPI(ctx context.Context, site vfskit.Site, cfg *vfskit.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithRetryMaxAttempts(max(cfg.RetryAttempts, 1)),
	)
	if err != nil {
		return nil, err
	}

	keyID, secret := cfg.S3AccessKeyID, cfg.S3SecretAccessKey
	if site.User != "" {
		keyID, secret = site.User, site.Password
	}
	if keyID != "" && secret != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(keyID, secret, "")
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	}), nil
}

// Close is a no-op; the SDK client holds no connections of its own.
func (c *Client) Close() error {
	return nil
}
