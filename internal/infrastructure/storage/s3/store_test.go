package s3

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves pages keyed by continuation token ("" is the first page).
type fakeS3 struct {
	pages    map[string]*s3.ListObjectsV2Output
	failures int
	failErr  error
	calls    []*s3.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.calls = append(f.calls, in)
	if f.failures > 0 {
		f.failures--
		return nil, f.failErr
	}
	return f.pages[aws.ToString(in.ContinuationToken)], nil
}

type fakePresigner struct{ ttl time.Duration }

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.ttl = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.test/" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)}, nil
}

func objects(keys ...string) []types.Object {
	out := make([]types.Object, len(keys))
	for i, k := range keys {
		out[i] = types.Object{Key: aws.String(k)}
	}
	return out
}

func newTestStore(client s3.ListObjectsV2APIClient, cfg Config) *Store {
	cfg.Bucket = "material"
	s := NewWithClient(client, &fakePresigner{}, cfg, nil)
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return s
}

func TestListObjectsUnder_FollowsPages(t *testing.T) {
	fake := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
		"": {
			Contents:              objects("FIIS/MA101/examenes/a.pdf", "FIIS/MA101/examenes/b.pdf"),
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("page2"),
		},
		"page2": {
			Contents:    objects("FIIS/MA101/examenes/c.pdf"),
			IsTruncated: aws.Bool(false),
		},
	}}
	s := newTestStore(fake, Config{})

	keys, err := s.ListObjectsUnder(context.Background(), "FIIS/MA101/examenes/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"FIIS/MA101/examenes/a.pdf",
		"FIIS/MA101/examenes/b.pdf",
		"FIIS/MA101/examenes/c.pdf",
	}, keys)
	require.Len(t, fake.calls, 2)
	assert.Nil(t, fake.calls[0].Delimiter)
}

func TestListObjectsDirectlyUnder_UsesDelimiter(t *testing.T) {
	fake := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
		"": {
			CommonPrefixes: []types.CommonPrefix{
				{Prefix: aws.String("FIIS/MA101/examenes/")},
				{Prefix: aws.String("FIIS/MA101/practicas/")},
			},
			Contents:    objects("FIIS/MA101/", "FIIS/MA101/silabo.pdf"),
			IsTruncated: aws.Bool(false),
		},
	}}
	s := newTestStore(fake, Config{})

	children, err := s.ListObjectsDirectlyUnder(context.Background(), "FIIS/MA101/")
	require.NoError(t, err)
	assert.Equal(t, []string{"FIIS/MA101/examenes/", "FIIS/MA101/practicas/"}, children)
	assert.Equal(t, "/", aws.ToString(fake.calls[0].Delimiter))
	assert.Equal(t, "material", aws.ToString(fake.calls[0].Bucket))
}

func TestList_RetriesTransientErrors(t *testing.T) {
	fake := &fakeS3{
		pages:    map[string]*s3.ListObjectsV2Output{"": {Contents: objects("a/b.pdf"), IsTruncated: aws.Bool(false)}},
		failures: 2,
		failErr:  errors.New("connection reset"),
	}
	s := newTestStore(fake, Config{MaxRetries: 3})

	keys, err := s.ListObjectsUnder(context.Background(), "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.pdf"}, keys)
	assert.Len(t, fake.calls, 3)
}

func TestList_ClientErrorsAreNotRetried(t *testing.T) {
	fake := &fakeS3{
		failures: 5,
		failErr:  &smithy.GenericAPIError{Code: "NoSuchBucket", Fault: smithy.FaultClient},
	}
	s := newTestStore(fake, Config{MaxRetries: 3})

	_, err := s.ListObjectsUnder(context.Background(), "a/")
	require.Error(t, err)
	assert.Len(t, fake.calls, 1)
}

func TestList_GivesUpAfterMaxRetries(t *testing.T) {
	fake := &fakeS3{failures: 10, failErr: errors.New("timeout")}
	s := newTestStore(fake, Config{MaxRetries: 2})

	_, err := s.ListObjectsUnder(context.Background(), "a/")
	require.Error(t, err)
	assert.Len(t, fake.calls, 3)
}

func TestGetPublicURL(t *testing.T) {
	t.Run("public base url", func(t *testing.T) {
		s := newTestStore(&fakeS3{}, Config{PublicBaseURL: "https://cdn.example.org/"})
		got, err := s.GetPublicURL(context.Background(), "FIIS/MA101/exámenes/parcial 1.pdf")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.org/FIIS/MA101/ex%C3%A1menes/parcial%201.pdf", got)
	})

	t.Run("presigned", func(t *testing.T) {
		s := newTestStore(&fakeS3{}, Config{PresignTTL: 15 * time.Minute})
		got, err := s.GetPublicURL(context.Background(), "FIIS/MA101/a.pdf")
		require.NoError(t, err)
		assert.Equal(t, "https://signed.test/material/FIIS/MA101/a.pdf", got)
		assert.Equal(t, 15*time.Minute, s.presigner.(*fakePresigner).ttl)
	})
}
