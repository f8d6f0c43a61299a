// Package openai provides a transport backed by the official OpenAI SDK.
//
// It exists alongside the universal anyllm transport for the one capability
// that transport lacks: image payloads. Requests without images work the same
// through either.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/crewmatch/coxswain/pkg/provider"
)

// Transport implements provider.Transport using the OpenAI API.
type Transport struct {
	client oai.Client
}

var _ provider.Transport = (*Transport)(nil)

// config holds optional configuration for the transport.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Transport.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transport.
func New(apiKey string, opts ...Option) (*Transport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transport{client: oai.NewClient(reqOpts...)}, nil
}

// Call implements provider.Transport.
func (t *Transport) Call(ctx context.Context, req provider.Request) (string, error) {
	if req.Model == "" {
		return "", &provider.CallError{Provider: "openai", Message: "model must not be empty"}
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	messages = append(messages, userMessage(req))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapErr(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", &provider.CallError{
			Provider: "openai",
			Model:    req.Model,
			Message:  "empty choices in response",
		}
	}
	return resp.Choices[0].Message.Content, nil
}

// userMessage builds the user turn: a plain string when there are no images,
// otherwise a text part followed by one inline data-URL part per image.
func userMessage(req provider.Request) oai.ChatCompletionMessageParamUnion {
	if len(req.Images) == 0 {
		return oai.UserMessage(req.Prompt)
	}

	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(req.Prompt),
	}
	for _, img := range req.Images {
		url := fmt.Sprintf("data:%s;base64,%s",
			http.DetectContentType(img), base64.StdEncoding.EncodeToString(img))
		parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: url,
		}))
	}
	return oai.UserMessage(parts)
}

// wrapErr converts an SDK failure into a *provider.CallError.
func wrapErr(model string, err error) error {
	ce := &provider.CallError{
		Provider: "openai",
		Model:    model,
		Message:  err.Error(),
		Err:      err,
	}
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		ce.StatusCode = apierr.StatusCode
		if apierr.Message != "" {
			ce.Message = apierr.Message
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ce.Timeout = true
	}
	return ce
}
