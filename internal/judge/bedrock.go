package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converseAPI is the subset of the Bedrock runtime client the judge uses.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock is a Client backed by the Bedrock Converse API.
type Bedrock struct {
	api converseAPI
}

// NewBedrock loads the default AWS configuration (environment, shared
// config, instance role) and creates a client. An empty region keeps the
// configured default.
func NewBedrock(ctx context.Context, region string) (*Bedrock, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Bedrock{api: bedrockruntime.NewFromConfig(cfg)}, nil
}

// Complete implements Client.
func (b *Bedrock) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	out, err := b.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(BedrockModelID(req.Model)),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, fmt.Errorf("bedrock converse: unexpected output %T", out.Output)
	}

	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}

	resp := Response{Text: text.String()}
	if out.Usage != nil {
		resp.InputTokens = int64(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int64(aws.ToInt32(out.Usage.OutputTokens))
	}
	return resp, nil
}
