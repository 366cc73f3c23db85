package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// HeadObjectAPI is the slice of the S3 client the verifier needs.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Verifier confirms documents with a HEAD request against the bucket.
type S3Verifier struct {
	client HeadObjectAPI
	bucket string
}

func NewS3Verifier(client HeadObjectAPI, bucket string) *S3Verifier {
	return &S3Verifier{client: client, bucket: bucket}
}

func (v *S3Verifier) Exists(ctx context.Context, id string) error {
	key, err := Key(id)
	if err != nil {
		return err
	}
	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return fmt.Errorf("head object %s: %w", key, err)
}

// NewS3Client loads the default AWS credential chain. A non-empty endpoint
// points the client at an S3-compatible service such as localstack.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
