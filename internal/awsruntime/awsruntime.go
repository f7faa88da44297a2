// Package awsruntime loads one shared aws-sdk-go-v2 config used by every
// AWS-backed collaborator (secrets, blob storage, DynamoDB mirror), so a
// single region/credential chain resolution is paid once per process
// rather than once per client.
package awsruntime

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// Options tunes the shared config load. Region is typically taken from
// AWS_REGION/AWS_DEFAULT_REGION when empty. BaseEndpoint overrides every
// AWS service endpoint, for pointing dynamograph/blobstore at a local
// stack (DynamoDB Local, MinIO) in integration tests.
type Options struct {
	Region       string
	BaseEndpoint string
}

// Load resolves the default AWS credential chain and region into a
// single aws.Config shared by every AWS service client.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.BaseEndpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(opts.BaseEndpoint))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	// Auto-instrument every AWS SDK call (DynamoDB, S3, Secrets Manager)
	// with an OTel span, matching the tracing wired around pipeline
	// stages and LLM calls elsewhere in this core.
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return cfg, nil
}
