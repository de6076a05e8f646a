package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// geminiModels is the part of genai.Models the adapter uses.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiAdapter talks to the Gemini API with native function calling.
type GeminiAdapter struct {
	models geminiModels
}

// NewGeminiAdapter creates an adapter for the Gemini Developer API.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: API key is required"}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: create client", Cause: err}}
	}
	return &GeminiAdapter{models: client.Models}, nil
}

// Name returns "gemini".
func (a *GeminiAdapter) Name() string { return ProviderGemini }

// Complete sends one GenerateContent request.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.models.GenerateContent(ctx, req.Model, geminiContents(req.Messages), geminiConfig(req))
	if err != nil {
		return nil, translateGeminiError(err)
	}
	acc := newGeminiAccumulator(req.Model)
	acc.add(resp)
	return acc.response()
}

// Stream iterates GenerateContentStream, forwarding text as it arrives.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	seq := a.models.GenerateContentStream(ctx, req.Model, geminiContents(req.Messages), geminiConfig(req))
	ch := make(chan StreamEvent, 64)
	send := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		if !send(StreamEvent{Type: StreamStart}) {
			return
		}
		acc := newGeminiAccumulator(req.Model)
		for chunk, err := range seq {
			if err != nil {
				send(StreamEvent{Type: StreamError, Error: translateGeminiError(err)})
				return
			}
			for _, delta := range acc.add(chunk) {
				if !send(StreamEvent{Type: TextDelta, Delta: delta}) {
					return
				}
			}
		}
		resp, err := acc.response()
		if err != nil {
			send(StreamEvent{Type: StreamError, Error: err})
			return
		}
		for _, tc := range resp.ToolCalls() {
			if !send(StreamEvent{Type: ToolCallEnd, ToolCall: &tc}) {
				return
			}
		}
		send(StreamEvent{Type: StreamFinish, Usage: &resp.Usage, Response: resp})
	}()
	return ch, nil
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.System)}}
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func geminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		var parts []*genai.Part
		for _, part := range m.Content {
			switch part.Kind {
			case ContentText:
				if part.Text != "" {
					parts = append(parts, genai.NewPartFromText(part.Text))
				}
			case ContentToolCall:
				var args map[string]any
				_ = json.Unmarshal(part.ToolCall.Arguments, &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: part.ToolCall.Name,
					Args: args,
				}})
			case ContentToolResult:
				key := "output"
				if part.ToolResult.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     part.ToolResult.Name,
					Response: map[string]any{key: part.ToolResult.Text()},
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// geminiAccumulator folds one or more response chunks into a Response.
type geminiAccumulator struct {
	model  string
	id     string
	text   []string
	calls  []ContentPart
	finish genai.FinishReason
	usage  Usage
}

func newGeminiAccumulator(model string) *geminiAccumulator {
	return &geminiAccumulator{model: model}
}

// add ingests a chunk and returns its text deltas.
func (g *geminiAccumulator) add(resp *genai.GenerateContentResponse) []string {
	if resp == nil {
		return nil
	}
	if resp.ResponseID != "" {
		g.id = resp.ResponseID
	}
	if resp.ModelVersion != "" {
		g.model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		in, out := int(u.PromptTokenCount), int(u.CandidatesTokenCount)
		g.usage = Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	}
	if len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		g.finish = cand.FinishReason
	}
	if cand.Content == nil {
		return nil
	}
	var deltas []string
	for _, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()[:8]
			}
			g.calls = append(g.calls, ToolCallPart(id, part.FunctionCall.Name, args))
		case part.Text != "" && !part.Thought:
			g.text = append(g.text, part.Text)
			deltas = append(deltas, part.Text)
		}
	}
	return deltas
}

func (g *geminiAccumulator) response() (*Response, error) {
	if g.finish == genai.FinishReasonSafety || g.finish == genai.FinishReasonProhibitedContent {
		return nil, &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: fmt.Sprintf("gemini: response blocked (%s)", g.finish)},
			Provider: ProviderGemini,
		}}
	}

	var content []ContentPart
	if text := strings.Join(g.text, ""); text != "" {
		content = append(content, TextPart(text))
	}
	content = append(content, g.calls...)

	stop := StopEndTurn
	switch {
	case len(g.calls) > 0:
		stop = StopToolUse
	case g.finish == genai.FinishReasonMaxTokens:
		stop = StopMaxTokens
	}
	return &Response{
		ID:         g.id,
		Model:      g.model,
		Provider:   ProviderGemini,
		Message:    Message{Role: RoleAssistant, Content: content},
		StopReason: stop,
		RawStop:    string(g.finish),
		Usage:      g.usage,
	}, nil
}

func translateGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.Code, apiErr.Message, ProviderGemini, err, nil)
	}
	// The SDK returns APIError by value.
	for e := err; e != nil; e = errors.Unwrap(e) {
		if v, ok := any(e).(genai.APIError); ok {
			return ErrorFromStatusCode(v.Code, v.Message, ProviderGemini, err, nil)
		}
	}
	return &NetworkError{SDKError: SDKError{Message: "gemini: request failed", Cause: err}}
}
