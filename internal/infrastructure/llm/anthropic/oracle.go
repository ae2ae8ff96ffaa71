package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/llm/oracleprompt"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
)

const defaultMaxTokens = 512

type Options struct {
	Model             string
	MaxTokens         int64
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Executor          *resilience.Executor
}

// Oracle classifies low-confidence files through the Messages API.
type Oracle struct {
	client    sdk.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	executor  *resilience.Executor
}

func NewOracle(apiKey string, opts Options) *Oracle {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries go through the shared executor
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	o := &Oracle{
		client:    sdk.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: maxTokens,
		executor:  opts.Executor,
	}
	if opts.RequestsPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}
	return o
}

func (o *Oracle) Name() string {
	return "anthropic"
}

func (o *Oracle) ClassifyDocument(ctx context.Context, text string, availableParsers []string, metadata map[string]string) (domain.OracleSuggestion, error) {
	if len(availableParsers) == 0 {
		return domain.OracleSuggestion{}, domain.WrapError(domain.ErrInvalidInput, "anthropic classify", errors.New("no candidate parsers"))
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return domain.OracleSuggestion{}, err
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(o.model),
		MaxTokens:   o.maxTokens,
		Temperature: sdk.Float(0),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(oracleprompt.Build(text, availableParsers, metadata))),
		},
	}
	reply, err := resilience.Call(ctx, o.executor, resilience.OpAnthropicMessage, func(ctx context.Context) (string, error) {
		msg, err := o.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic create message: %w", err)
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	}, classifyAnthropicError)
	if err != nil {
		return domain.OracleSuggestion{}, resilience.Temporary("anthropic classify", err, classifyAnthropicError)
	}
	return oracleprompt.Parse(reply, availableParsers)
}

// classifyAnthropicError retries rate limits, lock conflicts and server-side
// failures, 529 overload included. Other API errors are request problems.
func classifyAnthropicError(err error) resilience.ErrorClassification {
	return resilience.Classify(err, func(err error) (resilience.ErrorClassification, bool) {
		var apiErr *sdk.Error
		if !errors.As(err, &apiErr) {
			return resilience.ErrorClassification{}, false
		}
		if resilience.RetryableHTTPStatus(apiErr.StatusCode) || apiErr.StatusCode == http.StatusConflict || apiErr.StatusCode >= 500 {
			return resilience.Retry, true
		}
		return resilience.Ignore, true
	})
}
