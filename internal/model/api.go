package model

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

// SuggestionErrorResponse is returned when a triggered suggestion fetch
// fails. It keeps the suggestion fields so clients can tell it apart from a
// transcript that did not trigger.
type SuggestionErrorResponse struct {
	Error           APIError `json:"error"`
	RequestID       string   `json:"request_id,omitempty"`
	Suggestions     []string `json:"suggestions"`
	ContextDetected bool     `json:"context_detected"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type SuggestionRequest struct {
	Transcript *string `json:"transcript"`
}

type SuggestionResponse struct {
	Suggestions     []string    `json:"suggestions"`
	ContextDetected bool        `json:"context_detected"`
	MatchedTrigger  string      `json:"matched_trigger,omitempty"`
	RawText         string      `json:"raw_text,omitempty"`
	Usage           *TokenUsage `json:"usage,omitempty"`
}
