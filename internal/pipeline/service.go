package pipeline

import (
	"context"
	"time"

	"wordfinder/internal/suggest"
)

type Detector interface {
	Match(transcript string) (string, bool)
}

type Suggester interface {
	Suggest(ctx context.Context, transcript string) (suggest.Result, error)
}

type Service struct {
	detector  Detector
	suggester Suggester
}

type Result struct {
	ContextDetected bool
	MatchedTrigger  string
	Suggestions     []string
	RawText         string
	Usage           *suggest.TokenUsage
	Duration        time.Duration
}

func New(detector Detector, suggester Suggester) *Service {
	return &Service{detector: detector, suggester: suggester}
}

// Process runs trigger detection and, only when a trigger is found, a single
// suggestion fetch. A fetch error is returned alongside a result that still
// reports the detected context.
func (s *Service) Process(ctx context.Context, transcript string) (Result, error) {
	started := time.Now()

	phrase, ok := s.detector.Match(transcript)
	if !ok {
		return Result{Suggestions: []string{}, Duration: time.Since(started)}, nil
	}

	result := Result{
		ContextDetected: true,
		MatchedTrigger:  phrase,
		Suggestions:     []string{},
	}

	fetched, err := s.suggester.Suggest(ctx, transcript)
	result.Duration = time.Since(started)
	if err != nil {
		return result, err
	}

	if fetched.Suggestions != nil {
		result.Suggestions = fetched.Suggestions
	}
	result.RawText = fetched.RawText
	result.Usage = fetched.Usage
	return result, nil
}
