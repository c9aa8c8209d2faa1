package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ImageResolver turns a stored image key into a public URL.
type ImageResolver interface {
	ResolveURL(key string) string
}

// ImageDeleter is the optional write side of an ImageResolver. Resolvers
// that cannot delete simply don't implement it.
type ImageDeleter interface {
	DeleteImage(ctx context.Context, key string) error
}

// SpacesResolver serves product images from a DigitalOcean Spaces bucket
// through the S3 API.
type SpacesResolver struct {
	client    *s3.Client
	bucket    string
	region    string
	imageRoot string
}

func NewSpacesResolver(spacesKey, spacesSecret, region, bucket, imageRoot string) (*SpacesResolver, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(spacesKey, spacesSecret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load spaces config: %w", err)
	}

	return &SpacesResolver{
		client:    s3.NewFromConfig(cfg),
		bucket:    bucket,
		region:    region,
		imageRoot: strings.Trim(imageRoot, "/"),
	}, nil
}

func (s *SpacesResolver) ResolveURL(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.imageRoot != "" {
		key = s.imageRoot + "/" + key
	}
	return fmt.Sprintf("https://%s.%s.digitaloceanspaces.com/%s", s.bucket, s.region, key)
}

// DeleteImage removes a product image from the bucket. Reached through
// the admin product image cleanup endpoint.
func (s *SpacesResolver) DeleteImage(ctx context.Context, key string) error {
	key = strings.TrimPrefix(key, "/")
	if s.imageRoot != "" {
		key = s.imageRoot + "/" + key
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", key, err)
	}
	return nil
}

func (s *SpacesResolver) GetBucket() string {
	return s.bucket
}

func (s *SpacesResolver) GetRegion() string {
	return s.region
}
