package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/rolechat/internal/metrics"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Limiter throttles provider calls with a token bucket and retries
// rate-limited or network failures with exponential backoff.
type Limiter struct {
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
}

// NewLimiter allows rps calls per second; rps <= 0 disables throttling.
// A failing call is attempted at most maxRetries+1 times.
func NewLimiter(rps float64, maxRetries int) *Limiter {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		if int(rps) > burst {
			burst = int(rps)
		}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Limiter{
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: maxRetries,
		baseDelay:  initialBackoff,
	}
}

// Do runs fn, waiting for a token before each attempt.
func (l *Limiter) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			d := backoff(l.baseDelay, attempt)
			slog.Debug("retrying provider call", "op", op, "attempt", attempt, "delay", d, "error", err)
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), err)
			case <-time.After(d):
			}
		}
		if werr := l.limiter.Wait(ctx); werr != nil {
			if err != nil {
				return errors.Join(werr, err)
			}
			return werr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		kind, ok := KindOf(err)
		if !ok {
			return err
		}
		metrics.ProviderError(op, string(kind))
		if !kind.Retryable() {
			return err
		}
	}
	return err
}

// backoff doubles base per attempt with up to 25% jitter either way.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2+1)) - d/4
	return d + jitter
}

type limitedEmbedder struct {
	Embedder
	l *Limiter
}

// LimitEmbedder wraps e so every call goes through l.
func LimitEmbedder(e Embedder, l *Limiter) Embedder {
	return &limitedEmbedder{Embedder: e, l: l}
}

func (e *limitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.l.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.Embedder.Embed(ctx, texts)
		return err
	})
	return out, err
}

type limitedGenerator struct {
	Generator
	l *Limiter
}

// LimitGenerator wraps g so every call goes through l.
func LimitGenerator(g Generator, l *Limiter) Generator {
	return &limitedGenerator{Generator: g, l: l}
}

func (g *limitedGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	var out string
	err := g.l.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = g.Generator.Generate(ctx, messages)
		return err
	})
	return out, err
}
