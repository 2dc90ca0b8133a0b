// Copyright 2025 James Ross
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/0xPBIT/maiar-ai-sub000/internal/capability"
	"github.com/0xPBIT/maiar-ai-sub000/internal/model"
	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
)

// ErrTypedObject is returned when the model could not produce a value
// matching the requested schema within the retry budget.
var ErrTypedObject = errors.New("typed object request failed")

const (
	objectTemplateID = "core/object"
	retryTemplateID  = "core/retry"
)

type objectContext struct {
	Schema string
	Prompt string
}

type retryContext struct {
	Schema       string
	Prompt       string
	LastResponse string
	Error        string
}

// GetObject asks the model for a JSON value conforming to schema, using
// the configured retry budget.
func (e *Engine) GetObject(ctx context.Context, schema *capability.Schema, prompt string) (any, error) {
	return e.GetObjectWithRetries(ctx, schema, prompt, e.cfg.MaxRetries)
}

// GetObjectWithRetries is GetObject with an explicit retry budget:
// maxRetries is the number of retry prompts after the first attempt, so
// zero surfaces the first failure.
func (e *Engine) GetObjectWithRetries(ctx context.Context, schema *capability.Schema, prompt string, maxRetries int) (any, error) {
	current, err := e.templates.Render(objectTemplateID, objectContext{
		Schema: schema.Describe(),
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("render object template: %w", err)
	}

	var lastErr error
	var lastResponse string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			obs.TypedObjectRetries.Inc()
			current, err = e.templates.Render(retryTemplateID, retryContext{
				Schema:       schema.Describe(),
				Prompt:       prompt,
				LastResponse: lastResponse,
				Error:        lastErr.Error(),
			})
			if err != nil {
				return nil, fmt.Errorf("render retry template: %w", err)
			}
		}

		raw, err := e.generateText(ctx, current)
		if err != nil {
			lastErr = err
			lastResponse = ""
			continue
		}
		lastResponse = raw

		payload, ok := ExtractJSON(StripCodeFences(raw))
		if !ok {
			lastErr = fmt.Errorf("no JSON object or array in response")
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(payload), &value); err != nil {
			lastErr = fmt.Errorf("parse response: %w", err)
			continue
		}
		if err := schema.Validate(value); err != nil {
			lastErr = err
			continue
		}
		if attempt > 0 {
			e.log.Info("typed object recovered after retries",
				obs.Int("attempts", attempt+1))
		}
		return value, nil
	}

	obs.TypedObjectFailures.Inc()
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrTypedObject, maxRetries+1, lastErr)
}

// generateText runs the text-generation capability at the engine's
// planning temperature and coerces the result to a string.
func (e *Engine) generateText(ctx context.Context, prompt string) (string, error) {
	out, err := e.models.ExecuteCapability(ctx, model.CapTextGeneration,
		map[string]any{"prompt": prompt},
		map[string]any{"temperature": e.cfg.Temperature},
		"")
	if err != nil {
		return "", err
	}
	switch v := out.(type) {
	case string:
		return v, nil
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("text generation returned %T, want string", out)
}

// decode re-marshals a validated JSON value into a typed target.
func decode(value any, target any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}
