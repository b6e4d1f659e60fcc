// Package awsconf builds the aws.Config shared by the queue, record store,
// and object store clients.
package awsconf

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/zksmith/contract-worker/internal/config"
)

// Load resolves region, profile, and credentials, and instruments every SDK
// call with OTEL spans. When an endpoint override is configured (local
// stacks), static throwaway credentials are used so no host profile is
// required.
func Load(ctx context.Context, cfg config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	if cfg.LocalEndpoint() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "")))
	}
	ac, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("op=awsconf.Load: %w", err)
	}
	otelaws.AppendMiddlewares(&ac.APIOptions)
	return ac, nil
}
