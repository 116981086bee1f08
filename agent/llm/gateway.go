package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// Gateway implements contract.ModelGateway over the OpenAI chat completions
// API (or any compatible endpoint such as OpenRouter).
type Gateway struct {
	client  openai.Client
	cfg     Config
	counter prometheus.Counter
	log     zerolog.Logger
}

var _ contractx.ModelGateway = (*Gateway)(nil)

// Option customizes a Gateway.
type Option func(*Gateway)

// WithCallCounter increments counter once per chat completion request.
func WithCallCounter(counter prometheus.Counter) Option {
	return func(g *Gateway) {
		g.counter = counter
	}
}

func New(cfg Config, options ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	g := &Gateway{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		log:    log.With().Str("component", "llm.gateway").Logger(),
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

func (g *Gateway) countCall() {
	if g.counter != nil {
		g.counter.Inc()
	}
}

func (g *Gateway) Complete(
	ctx context.Context,
	system string,
	msgs []statex.Message,
	tools []contractx.ToolSchema,
) (contractx.ModelReply, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.cfg.Model),
		Messages:    buildMessages(system, msgs),
		Temperature: openai.Float(g.cfg.Temperature),
	}
	if g.cfg.MaxCompletionToken > 0 {
		params.MaxCompletionTokens = openai.Int(int64(g.cfg.MaxCompletionToken))
	}
	if len(tools) > 0 {
		params.Tools = buildToolParams(tools)
	}

	g.countCall()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contractx.ModelReply{}, fmt.Errorf("%w: chat completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return contractx.ModelReply{}, fmt.Errorf("%w: completion has no choices", contractx.ErrModelInvoke)
	}

	choice := resp.Choices[0].Message
	calls, err := parseToolCalls(choice.ToolCalls)
	if err != nil {
		return contractx.ModelReply{}, err
	}
	reply := contractx.ModelReply{
		Text:      strings.TrimSpace(choice.Content),
		ToolCalls: calls,
	}
	if reply.Text == "" && len(reply.ToolCalls) == 0 {
		return contractx.ModelReply{}, fmt.Errorf("%w: completion carries neither text nor tool calls", contractx.ErrSchemaViolation)
	}
	return reply, nil
}

type routeChoice struct {
	Next string `json:"next"`
}

func (g *Gateway) DecodeChoice(
	ctx context.Context,
	system string,
	msgs []statex.Message,
	options []string,
) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("%w: choice options are empty", contractx.ErrValidation)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"next": map[string]any{
				"type": "string",
				"enum": options,
			},
		},
		"required":             []string{"next"},
		"additionalProperties": false,
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.cfg.supervisorModel()),
		Messages:    buildMessages(system, msgs),
		Temperature: openai.Float(g.cfg.supervisorTemperature()),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "route",
					Strict: openai.Bool(true),
					Schema: schema,
				},
			},
		},
	}

	g.countCall()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: choice completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: choice completion has no choices", contractx.ErrModelInvoke)
	}

	var out routeChoice
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return "", fmt.Errorf("%w: decode choice: %v", contractx.ErrSchemaViolation, err)
	}
	next := strings.TrimSpace(out.Next)
	for _, opt := range options {
		if next == opt {
			return next, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not an allowed choice", contractx.ErrSchemaViolation, next)
}

func buildMessages(system string, msgs []statex.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case statex.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case statex.RoleAgent:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls)),
			}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args := "{}"
				if len(tc.Args) > 0 {
					if raw, err := json.Marshal(tc.Args); err == nil {
						args = string(raw)
					}
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case statex.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func buildToolParams(tools []contractx.ToolSchema) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.Params))
		var required []string
		for name, p := range t.Params {
			prop := map[string]any{"type": string(p.Type)}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			props[name] = prop
			if p.Required {
				required = append(required, name)
			}
		}
		parameters := shared.FunctionParameters{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			parameters["required"] = required
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  parameters,
			},
		})
	}
	return out
}

func parseToolCalls(calls []openai.ChatCompletionMessageToolCall) ([]statex.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]statex.ToolCall, 0, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}
		out = append(out, statex.ToolCall{
			ID:   call.ID,
			Name: name,
			Args: args,
		})
	}
	return out, nil
}
