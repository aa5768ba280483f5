package diagram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/livetemplate/lessonview/internal/clock"
)

// SyntaxError reports a description the renderer rejected. It is never
// retried and does not count against the circuit.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string { return "diagram syntax: " + e.Err.Error() }

func (e *SyntaxError) Unwrap() error { return e.Err }

// CircuitOpenError is returned without calling the renderer while it keeps
// failing.
type CircuitOpenError struct {
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("diagram renderer unavailable until %s", e.Until.Format(time.TimeOnly))
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests allowed
	CircuitOpen                         // Failures exceeded threshold, requests blocked
	CircuitHalfOpen                     // Testing if service recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ResilienceConfig tunes retries and the circuit breaker.
type ResilienceConfig struct {
	MaxRetries int           // Retry attempts after the first (default: 2)
	BaseDelay  time.Duration // Initial delay between retries (default: 200ms)
	MaxDelay   time.Duration // Maximum delay between retries (default: 2s)
	Multiplier float64       // Delay multiplier for exponential backoff (default: 2.0)

	FailureThreshold int           // Failures within FailureWindow that open the circuit (default: 5)
	SuccessThreshold int           // Successes in half-open to close (default: 1)
	OpenTimeout      time.Duration // Time to wait before half-open (default: 30s)
	FailureWindow    time.Duration // Window to count failures (default: 1 minute)
}

// DefaultResilienceConfig returns the default configuration.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:       2,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		Multiplier:       2.0,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		FailureWindow:    time.Minute,
	}
}

// ResilientService retries transient failures of the next service and stops
// calling it for a while once failures pile up.
type ResilientService struct {
	next   Service
	config ResilienceConfig
	clock  clock.Clock
	jitter func() float64

	mu              sync.Mutex
	state           CircuitState
	failures        []time.Time // Recent failure timestamps
	successes       int         // Consecutive successes in half-open state
	lastStateChange time.Time
}

// NewResilientService wraps next. A nil clock uses the wall clock.
func NewResilientService(next Service, cfg ResilienceConfig, c clock.Clock) *ResilientService {
	if c == nil {
		c = clock.New()
	}
	return &ResilientService{
		next:            next,
		config:          cfg,
		clock:           c,
		jitter:          rand.Float64,
		lastStateChange: c.Now(),
	}
}

func (s *ResilientService) Render(ctx context.Context, id, description string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.allow(); err != nil {
			return "", err
		}

		markup, err := s.next.Render(ctx, id, description)
		s.record(err)
		if err == nil {
			if attempt > 0 {
				log.Printf("[Diagram] Rendered on attempt %d", attempt+1)
			}
			return markup, nil
		}

		lastErr = err
		if !shouldRetry(err) {
			return "", err
		}
		if attempt == s.config.MaxRetries {
			break
		}

		delay := s.delay(attempt)
		log.Printf("[Diagram] Attempt %d failed (%v), retrying in %v...", attempt+1, err, delay)
		if err := s.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("diagram render failed after %d attempts: %w", s.config.MaxRetries+1, lastErr)
}

// State returns the current circuit state
func (s *ResilientService) State() CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ResilientService) allow() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != CircuitOpen {
		return nil
	}
	until := s.lastStateChange.Add(s.config.OpenTimeout)
	if s.clock.Now().Before(until) {
		return &CircuitOpenError{Until: until}
	}
	s.transitionTo(CircuitHalfOpen)
	return nil
}

func (s *ResilientService) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		switch s.state {
		case CircuitHalfOpen:
			s.successes++
			if s.successes >= s.config.SuccessThreshold {
				s.transitionTo(CircuitClosed)
			}
		case CircuitClosed:
			s.failures = s.failures[:0]
		}
		return
	}
	if !shouldRetry(err) {
		return
	}

	now := s.clock.Now()
	cutoff := now.Add(-s.config.FailureWindow)
	recent := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	s.failures = append(recent, now)

	switch s.state {
	case CircuitClosed:
		if len(s.failures) >= s.config.FailureThreshold {
			s.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open goes back to open
		s.transitionTo(CircuitOpen)
	}
}

func (s *ResilientService) transitionTo(state CircuitState) {
	if s.state == state {
		return
	}
	log.Printf("[Diagram] Circuit %s -> %s", s.state, state)
	s.state = state
	s.lastStateChange = s.clock.Now()
	s.successes = 0
	if state == CircuitClosed {
		s.failures = s.failures[:0]
	}
}

// delay computes exponential backoff with jitter between 80% and 120%.
func (s *ResilientService) delay(attempt int) time.Duration {
	d := float64(s.config.BaseDelay) * math.Pow(s.config.Multiplier, float64(attempt))
	if d > float64(s.config.MaxDelay) {
		d = float64(s.config.MaxDelay)
	}
	return time.Duration(d * (0.8 + s.jitter()*0.4))
}

func (s *ResilientService) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := s.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// shouldRetry reports whether err is worth another attempt.
func shouldRetry(err error) bool {
	var syntaxErr *SyntaxError
	var circuitErr *CircuitOpenError
	switch {
	case err == nil:
		return false
	case errors.As(err, &syntaxErr), errors.As(err, &circuitErr):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
