// Package s3 implements the ContentStore on an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/estudia/material-bot/pkg/logger"
)

// Config holds bucket settings.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string

	PublicBaseURL string
	PresignTTL    time.Duration
	UsePathStyle  bool

	MaxRetries int
}

// Presigner signs GET requests. *s3.PresignClient implements it.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store lists and links objects of one bucket.
type Store struct {
	client    s3.ListObjectsV2APIClient
	presigner Presigner
	cfg       Config
	log       *logger.Logger

	newBackOff func() backoff.BackOff
}

// New builds a Store from the default AWS credential chain.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithClient(client, s3.NewPresignClient(client), cfg, log), nil
}

// NewWithClient builds a Store on explicit clients.
func NewWithClient(client s3.ListObjectsV2APIClient, presigner Presigner, cfg Config, log *logger.Logger) *Store {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		client:    client,
		presigner: presigner,
		cfg:       cfg,
		log:       log.With(logger.Component("s3")),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LISTING
// ══════════════════════════════════════════════════════════════════════════════

// ListObjectsUnder returns every key under prefix, at any depth.
func (s *Store) ListObjectsUnder(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.paginate(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	}, func(out *s3.ListObjectsV2Output) {
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("s3: list %q: %w", prefix, err)
	}
	return keys, nil
}

// ListObjectsDirectlyUnder returns the sub-folders of prefix as common
// prefixes ending in "/". Files directly under prefix are not listed.
func (s *Store) ListObjectsDirectlyUnder(ctx context.Context, prefix string) ([]string, error) {
	var children []string
	err := s.paginate(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(out *s3.ListObjectsV2Output) {
		for _, p := range out.CommonPrefixes {
			children = append(children, aws.ToString(p.Prefix))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("s3: list children of %q: %w", prefix, err)
	}
	return children, nil
}

// paginate walks every page. Each page request is retried on its own, so a
// retry never replays pages already consumed.
func (s *Store) paginate(ctx context.Context, in *s3.ListObjectsV2Input, page func(*s3.ListObjectsV2Output)) error {
	p := s3.NewListObjectsV2Paginator(s.client, in)
	for p.HasMorePages() {
		var out *s3.ListObjectsV2Output
		err := s.retry(ctx, func() error {
			var err error
			out, err = p.NextPage(ctx)
			return err
		})
		if err != nil {
			return err
		}
		page(out)
	}
	return nil
}

func (s *Store) retry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.cfg.MaxRetries)), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		s.log.Warn("s3 request failed, retrying", logger.Int("attempt", attempt), logger.Err(err))
		return err
	}, b)
}

// retryable rejects client errors such as a missing bucket or bad credentials.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() != smithy.FaultClient
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// LINKS
// ══════════════════════════════════════════════════════════════════════════════

// GetPublicURL returns a URL the channel can download key from.
func (s *Store) GetPublicURL(ctx context.Context, key string) (string, error) {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL + "/" + escapeKey(key), nil
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("s3: presign %q: %w", key, err)
	}
	return req.URL, nil
}

// escapeKey escapes each path segment, keeping the separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
