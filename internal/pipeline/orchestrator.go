// Package pipeline drives finalized segments through the asynchronous
// processing stages. A fixed worker pool pulls segments off a bounded
// queue; each worker owns a message through transcription and, when
// enabled, translation. Stages for one message run strictly in order
// while distinct messages proceed concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voxlog/capture-gateway/internal/audio"
	"github.com/voxlog/capture-gateway/internal/config"
	"github.com/voxlog/capture-gateway/internal/engine"
	"github.com/voxlog/capture-gateway/internal/observability"
	"github.com/voxlog/capture-gateway/internal/resilience"
	"github.com/voxlog/capture-gateway/internal/store"
)

var errPipelineStopped = errors.New("pipeline stopped")

type job struct {
	messageID int64
	audioPath string
}

// Orchestrator owns the stage worker pool
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	registry *engine.Registry

	retryCfg *resilience.RetryConfig

	breakerMu sync.Mutex
	breakers  map[string]*resilience.CircuitBreaker

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewOrchestrator wires the pipeline against the message store and the
// configured engine adapters
func NewOrchestrator(cfg *config.Config, st *store.Store, registry *engine.Registry) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		registry: registry,
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        time.Duration(cfg.RetryMaxBackoff) * time.Millisecond,
			BackoffMultiplier: cfg.RetryBackoffMultiplier,
			Jitter:            true,
		},
		breakers: make(map[string]*resilience.CircuitBreaker),
		jobs:     make(chan job, cfg.SegmentBacklog),
		quit:     make(chan struct{}),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Stop closes the queue.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.cfg.WorkerCount; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
	log.Info().Int("workers", o.cfg.WorkerCount).Msg("Pipeline started")
}

// Stop rejects further submissions and waits for in-flight work.
// The queue itself stays open so late Submit calls fail cleanly
// instead of panicking.
func (o *Orchestrator) Stop() {
	close(o.quit)
	o.wg.Wait()
	log.Info().Msg("Pipeline stopped")
}

// Submit registers a finalized segment as a pending message and queues
// it for processing. It blocks when the backlog is full.
func (o *Orchestrator) Submit(ctx context.Context, seg *audio.Segment) (*store.Message, error) {
	msg := o.store.Create(seg.Metadata)

	j := job{
		messageID: msg.ID,
		audioPath: strings.TrimPrefix(seg.Metadata.FileURI, "file://"),
	}

	select {
	case o.jobs <- j:
		return msg, nil
	case <-o.quit:
	case <-ctx.Done():
	}
	o.store.Update(msg.ID, func(m *store.Message) {
		m.Status = store.StatusFailed
		m.Error = "pipeline shutting down"
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errPipelineStopped
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.quit:
			return
		case j := <-o.jobs:
			o.process(ctx, j)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, j job) {
	logger := log.With().Int64("message_id", j.messageID).Logger()

	if _, err := o.store.Update(j.messageID, func(m *store.Message) {
		m.Status = store.StatusTranscribing
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to mark message transcribing")
		return
	}

	transcript, err := o.transcribe(ctx, j.audioPath)
	if err != nil {
		logger.Error().Err(err).Msg("Transcription failed")
		o.store.Update(j.messageID, func(m *store.Message) {
			m.Status = store.StatusFailed
			m.Error = err.Error()
		})
		return
	}

	logger.Debug().Int("transcript_len", len(transcript)).Msg("Transcription completed")
	if _, err := o.store.Update(j.messageID, func(m *store.Message) {
		m.Status = store.StatusCompleted
		m.Transcript = transcript
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to record transcript")
		return
	}

	if o.cfg.EnableTranslation {
		o.translate(ctx, j.messageID, transcript, logger)
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, audioPath string) (string, error) {
	transcriber, err := o.registry.Transcriber(o.cfg.TranscriptionEngine)
	if err != nil {
		return "", err
	}

	var result *engine.TranscribeResult
	started := time.Now()
	err = o.callProvider(ctx, transcriber.Name(), o.cfg.ProviderCallTimeout(), func(ctx context.Context) error {
		var callErr error
		result, callErr = transcriber.Transcribe(ctx, engine.TranscribeRequest{
			AudioPath: audioPath,
			Model:     o.cfg.TranscriptionModel,
			Language:  o.cfg.TranscriptionLanguage,
		})
		return callErr
	})
	observability.RecordStage("transcription", err == nil, time.Since(started))
	if err != nil {
		return "", fmt.Errorf("transcription via %s: %w", transcriber.Name(), err)
	}
	return result.Text, nil
}

// translate runs the optional translation stage. Its failure never
// touches the transcription result.
func (o *Orchestrator) translate(ctx context.Context, messageID int64, transcript string, logger zerolog.Logger) {
	if _, err := o.store.Update(messageID, func(m *store.Message) {
		m.TranslationStatus = store.TranslationPending
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to mark translation pending")
		return
	}

	translator, err := o.registry.Translator(o.cfg.TranslationEngine)
	if err == nil {
		var result *engine.TranslateResult
		started := time.Now()
		err = o.callProvider(ctx, translator.Name(), o.cfg.TranslationTimeout(), func(ctx context.Context) error {
			var callErr error
			result, callErr = translator.Translate(ctx, engine.TranslateRequest{
				Text:           transcript,
				TargetLanguage: o.cfg.TranslationTargetLanguage,
				Model:          o.cfg.TranslationModel,
			})
			return callErr
		})
		observability.RecordStage("translation", err == nil, time.Since(started))
		if err == nil {
			o.store.Update(messageID, func(m *store.Message) {
				m.TranslationStatus = store.TranslationCompleted
				m.Translation = result.Text
				m.TranslationError = ""
			})
			return
		}
	}

	logger.Error().Err(err).Msg("Translation failed")
	o.store.Update(messageID, func(m *store.Message) {
		m.TranslationStatus = store.TranslationFailed
		m.TranslationError = err.Error()
	})
}

// callProvider wraps one provider call in the per-engine circuit
// breaker, the retry policy, and a per-attempt deadline
func (o *Orchestrator) callProvider(ctx context.Context, engineName string, timeout time.Duration, fn func(context.Context) error) error {
	breaker := o.breakerFor(engineName)

	return resilience.Retry(ctx, func(ctx context.Context) error {
		return breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			err := fn(callCtx)
			if err != nil {
				observability.IncrementCircuitBreakerFailures(engineName)
			}
			return err
		})
	}, o.retryCfg, func(err error) bool {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return true
		}
		return engine.IsRetryable(err)
	})
}

func (o *Orchestrator) breakerFor(name string) *resilience.CircuitBreaker {
	o.breakerMu.Lock()
	defer o.breakerMu.Unlock()

	cb, ok := o.breakers[name]
	if !ok {
		cb = resilience.NewCircuitBreaker(name,
			o.cfg.CircuitBreakerMaxFailures,
			time.Duration(o.cfg.CircuitBreakerResetTimeout)*time.Second)
		cb.OnStateChange(func(engine string, from, to resilience.CircuitState) {
			log.Warn().Str("engine", engine).
				Stringer("from", from).Stringer("to", to).
				Msg("Circuit breaker state changed")
			observability.UpdateCircuitBreakerState(engine, int(to))
		})
		o.breakers[name] = cb
	}
	return cb
}
