// Package bedrock provides a model.Client for Claude models hosted on AWS
// Bedrock. It reuses the anthropic adapter with the SDK's Bedrock request
// signing, so conversation/tool translation lives in one place.
package bedrock

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	sdkbedrock "github.com/anthropics/anthropic-sdk-go/bedrock"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/hupe1980/gitscout/model/anthropic"
)

// Options configures the Bedrock adapter.
type Options struct {
	// Region selects the Bedrock region. Default us-east-1.
	Region string
	// Model is the Bedrock model id.
	Model string
	// Temperature for generation.
	Temperature float64
	// MaxTokens caps generation output.
	MaxTokens int64
}

// New creates a Bedrock-backed model client. Credentials resolve through the
// default AWS chain (env, shared config, instance role).
func New(ctx context.Context, optFns ...func(o *Options)) (*anthropic.Client, error) {
	opts := Options{
		Region:      "us-east-1",
		Model:       "anthropic.claude-3-5-sonnet-20241022-v2:0",
		Temperature: 0.1,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, err
	}
	client := sdk.NewClient(sdkbedrock.WithConfig(cfg))

	return anthropic.NewFromClient(&client, func(o *anthropic.Options) {
		o.Model = sdk.Model(opts.Model)
		o.Temperature = opts.Temperature
		o.MaxTokens = opts.MaxTokens
		o.Provider = "bedrock"
	}), nil
}
