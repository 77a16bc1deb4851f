package suggest

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"wordfinder/internal/upstream/openai"
)

// MaxSuggestions caps the number of words returned per transcript.
const MaxSuggestions = 3

const PromptTemplate = `Take a moment to think, then provide three single word answers. All other information will be ignored! Do not include any other details in your response. The speaker is struggling to recall a word. Provide the word being described by the speaker: %s`

type ResponseClient interface {
	CreateResponse(ctx context.Context, req openai.ResponseRequest) (openai.Response, error)
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Options struct {
	Model           string
	ReasoningEffort string
	MaxOutputTokens int
	Timeout         time.Duration
}

type Result struct {
	Suggestions []string
	RawText     string
	Usage       *TokenUsage
}

type Service struct {
	client ResponseClient
	opts   Options
}

func New(client ResponseClient, opts Options) *Service {
	opts.Model = strings.TrimSpace(opts.Model)
	opts.ReasoningEffort = strings.TrimSpace(opts.ReasoningEffort)
	return &Service{client: client, opts: opts}
}

// Suggest asks the provider which word the speaker is trying to recall.
// Errors from the client are returned unchanged.
func (s *Service) Suggest(ctx context.Context, transcript string) (Result, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	req := openai.ResponseRequest{
		Model:           s.opts.Model,
		Input:           BuildPrompt(transcript),
		MaxOutputTokens: s.opts.MaxOutputTokens,
	}
	if s.opts.ReasoningEffort != "" {
		req.Reasoning = &openai.Reasoning{Effort: s.opts.ReasoningEffort}
	}

	resp, err := s.client.CreateResponse(ctx, req)
	if err != nil {
		return Result{}, err
	}
	text, err := resp.OutputText()
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Suggestions: splitSuggestions(text),
		RawText:     text,
	}
	if resp.Usage != nil {
		result.Usage = &TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

func BuildPrompt(transcript string) string {
	return fmt.Sprintf(PromptTemplate, strings.TrimSpace(transcript))
}

// splitSuggestions turns free text such as "1. Hammer, 2. Wrench" into at
// most MaxSuggestions distinct words. A lead-in like "The answer is:" is
// dropped by reading only what follows the last colon. Text with no usable
// words is returned whole as a single suggestion.
func splitSuggestions(text string) []string {
	if i := strings.LastIndex(text, ":"); i >= 0 {
		if words := collectWords(text[i+1:]); len(words) > 0 {
			return words
		}
	}
	if words := collectWords(text); len(words) > 0 {
		return words
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{}
	}
	return []string{trimmed}
}

func collectWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '/' || r == '|'
	})

	seen := make(map[string]struct{}, len(fields))
	words := make([]string, 0, MaxSuggestions)
	for _, field := range fields {
		word := cleanWord(field)
		if word == "" {
			continue
		}
		key := strings.ToLower(word)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		words = append(words, word)
		if len(words) == MaxSuggestions {
			break
		}
	}
	return words
}

func cleanWord(field string) string {
	word := strings.TrimFunc(field, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if word == "" {
		return ""
	}
	// list markers like "1." or "2)"
	if strings.IndexFunc(word, unicode.IsLetter) < 0 {
		return ""
	}
	return word
}
