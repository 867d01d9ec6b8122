package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source serves s3://bucket/key locators. A missing key is an upstream
// failure, not a 404: the catalog says the object exists.
type S3Source struct {
	client objectGetter
}

func NewS3Source(client *s3.Client) *S3Source { return &S3Source{client: client} }

func (s *S3Source) Open(ctx context.Context, loc catalog.Location) (Stream, error) {
	if loc.URL == nil || loc.URL.Scheme != "s3" {
		return nil, xerrors.New("s3 source given a non-s3 location")
	}
	bucket := loc.URL.Host
	key := strings.TrimPrefix(loc.URL.Path, "/")

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, upstreamFailure(xerrors.Wrapf(err, "get S3 object s3://%s/%s (%s)", bucket, key, s3ErrorCode(err)))
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return sizedStream{ReadCloser: out.Body, size: size}, nil
}

// s3ErrorCode extracts the service error code (NoSuchKey, AccessDenied, ...)
// for logs. Transport failures have none.
func s3ErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return "transport"
}
