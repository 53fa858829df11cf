package engine

import (
	"fmt"
	"net/http"
	"time"

	"github.com/voxlog/capture-gateway/internal/config"
)

// Registry holds the configured engine adapters keyed by engine identifier.
// Stage selection happens here by name; callers never inspect adapter types.
type Registry struct {
	transcribers map[string]Transcriber
	translators  map[string]Translator
	extractors   map[string]QAExtractor
}

// NewRegistry builds adapters for every provider with usable configuration
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		transcribers: make(map[string]Transcriber),
		translators:  make(map[string]Translator),
		extractors:   make(map[string]QAExtractor),
	}

	// Per-call deadlines come from the caller's context; the HTTP client
	// timeout is a backstop only
	httpClient := &http.Client{Timeout: 5 * time.Minute}

	if cfg.OpenAIAPIKey != "" {
		openai := NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient)
		r.transcribers[openai.Name()] = openai
		r.translators[openai.Name()] = openai
		r.extractors[openai.Name()] = openai
	}
	if cfg.GeminiAPIKey != "" {
		gemini := NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL, httpClient)
		r.translators[gemini.Name()] = gemini
		r.extractors[gemini.Name()] = gemini
	}
	if cfg.DashScopeAPIKey != "" {
		qwen := NewQwenClient(cfg.DashScopeAPIKey, cfg.DashScopeBaseURL, httpClient)
		r.transcribers[qwen.Name()] = qwen
	}
	if cfg.SonioxAPIKey != "" {
		soniox := NewSonioxClient(cfg.SonioxAPIKey, cfg.SonioxBaseURL, httpClient)
		r.transcribers[soniox.Name()] = soniox
	}
	if cfg.DeepgramAPIKey != "" {
		deepgram := NewDeepgramClient(cfg.DeepgramAPIKey)
		r.transcribers[deepgram.Name()] = deepgram
	}

	return r
}

// RegisterTranscriber adds or replaces a transcription adapter
func (r *Registry) RegisterTranscriber(t Transcriber) {
	r.transcribers[t.Name()] = t
}

// RegisterTranslator adds or replaces a translation adapter
func (r *Registry) RegisterTranslator(t Translator) {
	r.translators[t.Name()] = t
}

// RegisterQAExtractor adds or replaces a QA extraction adapter
func (r *Registry) RegisterQAExtractor(e QAExtractor) {
	r.extractors[e.Name()] = e
}

// Transcriber returns the transcription adapter for the engine name
func (r *Registry) Transcriber(name string) (Transcriber, error) {
	t, ok := r.transcribers[name]
	if !ok {
		return nil, fmt.Errorf("no transcription engine %q configured", name)
	}
	return t, nil
}

// Translator returns the translation adapter for the engine name
func (r *Registry) Translator(name string) (Translator, error) {
	t, ok := r.translators[name]
	if !ok {
		return nil, fmt.Errorf("no translation engine %q configured", name)
	}
	return t, nil
}

// QAExtractor returns the QA extraction adapter for the engine name
func (r *Registry) QAExtractor(name string) (QAExtractor, error) {
	e, ok := r.extractors[name]
	if !ok {
		return nil, fmt.Errorf("no QA engine %q configured", name)
	}
	return e, nil
}
