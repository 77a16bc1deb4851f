package openai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const noOutputTextMessage = "no output text found"

type ResponseRequest struct {
	Model           string     `json:"model"`
	Input           string     `json:"input"`
	Reasoning       *Reasoning `json:"reasoning,omitempty"`
	MaxOutputTokens int        `json:"max_output_tokens,omitempty"`
}

type Reasoning struct {
	Effort string `json:"effort"`
}

// Response is the provider-owned envelope of a Responses API call. Every
// field is optional.
type Response struct {
	ID     string         `json:"id,omitempty"`
	Model  string         `json:"model,omitempty"`
	Error  *ResponseError `json:"error"`
	Output []OutputItem   `json:"output"`
	Usage  *ResponseUsage `json:"usage,omitempty"`
}

type ResponseError struct {
	Code    any    `json:"code,omitempty"`
	Message string `json:"message"`
}

type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type OutputKind int

const (
	OutputUnrecognized OutputKind = iota
	OutputMessage
	OutputReasoning
)

func (k OutputKind) String() string {
	switch k {
	case OutputMessage:
		return "message"
	case OutputReasoning:
		return "reasoning"
	default:
		return "unrecognized"
	}
}

// OutputItem is one entry of the output list, discriminated by Type.
type OutputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

func (o OutputItem) Kind() OutputKind {
	switch o.Type {
	case "message":
		return OutputMessage
	case "reasoning":
		return OutputReasoning
	default:
		return OutputUnrecognized
	}
}

// Text returns the text carried by the item's content. Content may be a bare
// string, an object with a text field, or a list of such parts.
func (o OutputItem) Text() string {
	if len(o.Content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(o.Content, &plain); err == nil {
		return plain
	}

	var single contentPart
	if err := json.Unmarshal(o.Content, &single); err == nil {
		return single.Text
	}

	var parts []contentPart
	if err := json.Unmarshal(o.Content, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, part := range parts {
			if part.Type != "" && part.Type != "output_text" && part.Type != "text" {
				continue
			}
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

type contentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// OutputText returns the text of the first message entry. A non-null error
// object, a missing message entry, or an empty message all yield a
// *ProviderError.
func (r Response) OutputText() (string, error) {
	if r.Error != nil {
		message := strings.TrimSpace(r.Error.Message)
		if message == "" {
			message = "provider returned an error"
		}
		return "", &ProviderError{Code: codeString(r.Error.Code), Message: message}
	}
	for _, item := range r.Output {
		if item.Kind() != OutputMessage {
			continue
		}
		text := strings.TrimSpace(item.Text())
		if text == "" {
			break
		}
		return text, nil
	}
	return "", &ProviderError{Message: noOutputTextMessage}
}

func codeString(code any) string {
	switch v := code.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

func parseResponse(data []byte) (Response, error) {
	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, &RequestError{Endpoint: "responses", Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return parsed, nil
}
