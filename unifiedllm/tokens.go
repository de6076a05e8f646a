package unifiedllm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the number of tokens in a piece of text.
type TokenCounter func(text string) int

// HeuristicTokens estimates four characters per token.
func HeuristicTokens(text string) int {
	return len(text) / 4
}

var (
	encoderMu sync.Mutex
	encoders  = map[string]*tiktoken.Tiktoken{}
)

// TiktokenCounter returns a counter backed by the BPE encoding for model,
// falling back to cl100k_base and then to HeuristicTokens when no encoding can
// be loaded.
func TiktokenCounter(model string) TokenCounter {
	enc := loadEncoder(model)
	if enc == nil {
		return HeuristicTokens
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}

func loadEncoder(model string) *tiktoken.Tiktoken {
	encoderMu.Lock()
	defer encoderMu.Unlock()
	if enc, ok := encoders[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		enc = nil
	}
	encoders[model] = enc
	return enc
}

// estimateRequestTokens counts the text carried by a request's messages.
func estimateRequestTokens(req Request, count TokenCounter) int {
	total := count(req.System)
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += count(part.Text)
			case ContentToolCall:
				total += count(string(part.ToolCall.Arguments))
			case ContentToolResult:
				total += count(part.ToolResult.Text())
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
