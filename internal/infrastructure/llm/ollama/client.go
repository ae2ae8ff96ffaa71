package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/llm/oracleprompt"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	Timeout time.Duration
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Executor          *resilience.Executor
}

func New(baseURL, model string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Burst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Oracle asks a local Ollama model to pick a parser for a low-confidence file.
type Oracle struct {
	client *Client
}

func NewOracle(client *Client) *Oracle {
	return &Oracle{client: client}
}

func (o *Oracle) Name() string {
	return "ollama"
}

func (o *Oracle) ClassifyDocument(ctx context.Context, text string, availableParsers []string, metadata map[string]string) (domain.OracleSuggestion, error) {
	if len(availableParsers) == 0 {
		return domain.OracleSuggestion{}, domain.WrapError(domain.ErrInvalidInput, "ollama classify", errNoParsers)
	}
	respText, err := o.client.generateJSON(ctx, oracleprompt.Build(text, availableParsers, metadata))
	if err != nil {
		return domain.OracleSuggestion{}, err
	}
	return oracleprompt.Parse(respText, availableParsers)
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Format:  "json",
		Options: generateOptions{Temperature: 0},
	})
}

func (c *Client) generate(ctx context.Context, req generateRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	out, err := resilience.Call(ctx, c.executor, resilience.OpOllamaGenerate, func(ctx context.Context) (string, error) {
		var reply generateReply
		if err := c.post(ctx, "/api/generate", "generate", req, &reply); err != nil {
			return "", err
		}
		return strings.TrimSpace(reply.Response), nil
	}, classifyOllamaError)
	if err != nil {
		return "", resilience.Temporary("ollama generate", err, classifyOllamaError)
	}
	return out, nil
}
