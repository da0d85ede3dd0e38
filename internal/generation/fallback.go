// ABOUTME: Wraps a Generator with defaults, a per-call timeout and one fallback retry
// ABOUTME: Failure of both attempts is reported as ErrUnavailable

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Options configures Fallback.
type Options struct {
	Model         string
	FallbackModel string
	MaxTokens     int
	Timeout       time.Duration
}

// Fallback retries a failed call once against FallbackModel.
type Fallback struct {
	next   Generator
	opts   Options
	logger *slog.Logger
}

// NewFallback wraps next. An empty FallbackModel disables the retry.
func NewFallback(next Generator, opts Options, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		next:   next,
		opts:   opts,
		logger: logger.With("component", "generation"),
	}
}

// Generate fills in the default model and token limit, then calls the
// wrapped generator. A failure is retried once with the fallback model
// unless the request already used it.
func (f *Fallback) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		req.Model = f.opts.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = f.opts.MaxTokens
	}

	res, err := f.attempt(ctx, req)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}

	if f.opts.FallbackModel == "" || f.opts.FallbackModel == req.Model {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	f.logger.Warn("generation failed, retrying with fallback model",
		"model", req.Model,
		"fallback_model", f.opts.FallbackModel,
		"error", err,
	)
	req.Model = f.opts.FallbackModel
	res, retryErr := f.attempt(ctx, req)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(err, retryErr))
	}
	return res, nil
}

func (f *Fallback) attempt(ctx context.Context, req Request) (*Result, error) {
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}
	res, err := f.next.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("generator returned no result")
	}
	return res, nil
}
