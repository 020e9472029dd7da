// Package summary summarizes conversations with a Claude model on Amazon Bedrock.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vdavid/webmail/internal/mailbox"
)

const (
	// DefaultModelID is used when no model is configured.
	DefaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	// DefaultMaxTokens bounds the model's answer.
	DefaultMaxTokens = 400
	// maxTranscriptInput is the most transcript characters sent to the model.
	maxTranscriptInput = 12000
	anthropicVersion   = "bedrock-2023-05-31"
)

var tracer = otel.Tracer("github.com/vdavid/webmail/internal/summary")

// BedrockInvoker is the part of the Bedrock runtime client the summarizer uses.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config holds configuration for the summarizer.
type Config struct {
	ModelID   string
	MaxTokens int
}

// BedrockSummarizer implements mailbox.Summarizer.
type BedrockSummarizer struct {
	client    BedrockInvoker
	modelID   string
	maxTokens int
}

var _ mailbox.Summarizer = (*BedrockSummarizer)(nil)

// NewBedrockSummarizer creates a summarizer, filling in defaults for empty config fields.
func NewBedrockSummarizer(client BedrockInvoker, cfg Config) *BedrockSummarizer {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &BedrockSummarizer{
		client:    client,
		modelID:   modelID,
		maxTokens: maxTokens,
	}
}

// claudeRequest is the Messages API body Bedrock expects for Claude models.
type claudeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const systemPrompt = `You summarize email conversations for the person who received them.
Write two to four plain sentences: who is involved, what was discussed or decided, and any open question or action for the reader.
Output only the summary. No preamble, no bullet points, no quotes.`

// Summarize returns a short prose summary of transcript.
func (s *BedrockSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	ctx, span := tracer.Start(ctx, "summary.summarize", trace.WithAttributes(
		attribute.String("bedrock.model_id", s.modelID),
		attribute.Int("summary.transcript_length", len(transcript)),
	))
	defer span.End()

	out, err := s.summarize(ctx, transcript)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}

func (s *BedrockSummarizer) summarize(ctx context.Context, transcript string) (string, error) {
	reqBody, err := json.Marshal(claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        s.maxTokens,
		System:           systemPrompt,
		Messages: []message{
			{Role: "user", Content: truncateRunes(transcript, maxTranscriptInput)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := s.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(s.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        reqBody,
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke model: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return summary, nil
}

// truncateRunes keeps the first n characters of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
