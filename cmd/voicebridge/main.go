// voicebridge is the realtime voice backend for the Coliblanco
// dashboard: websocket voice sessions, REST provider endpoints and
// audio artifact serving.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coliblanco/voicebridge/internal/config"
	"github.com/coliblanco/voicebridge/internal/log"
	"github.com/coliblanco/voicebridge/pkg/artifact"
	"github.com/coliblanco/voicebridge/pkg/chat"
	"github.com/coliblanco/voicebridge/pkg/gateway"
	"github.com/coliblanco/voicebridge/pkg/intent"
	"github.com/coliblanco/voicebridge/pkg/session"
	"github.com/coliblanco/voicebridge/pkg/stt"
	"github.com/coliblanco/voicebridge/pkg/tts"
	"github.com/coliblanco/voicebridge/pkg/vad"
	"github.com/coliblanco/voicebridge/pkg/voice"
	"github.com/coliblanco/voicebridge/pkg/web"
)

func main() {
	cfg := config.FromEnv()
	log.Init(cfg.LogLevel)
	logger := log.L()

	if cfg.OpenAIAPIKey == "" {
		log.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sttProvider, err := stt.NewWhisper(
		stt.WithAPIKey(cfg.OpenAIAPIKey),
		stt.WithLanguage(cfg.Language),
		stt.WithLogger(logger),
	)
	if err != nil {
		log.Error("speech-to-text init failed", "error", err)
		os.Exit(1)
	}
	defer sttProvider.Close()

	ttsProvider, err := newTTSProvider(cfg, logger)
	if err != nil {
		log.Error("text-to-speech init failed", "error", err)
		os.Exit(1)
	}
	defer ttsProvider.Close()

	chatProvider, err := newChatProvider(ctx, cfg, logger)
	if err != nil {
		log.Error("chat init failed", "error", err)
		os.Exit(1)
	}
	defer chatProvider.Close()

	store, err := artifact.NewDiskStore(cfg.AudioDir)
	if err != nil {
		log.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	registry := session.NewRegistry(cfg.MaxSessions)

	pipelineOpts := []voice.Option{
		voice.WithSystemPrompt(cfg.SystemPrompt),
		voice.WithLanguage(cfg.Language),
		voice.WithLogger(logger),
	}
	if cfg.WakeWord != "" {
		pipelineOpts = append(pipelineOpts, voice.WithWakeWord(cfg.WakeWord))
	}
	if cfg.IntentEnable {
		classifier, cerr := intent.NewOpenAI(cfg.OpenAIAPIKey, intent.WithLogger(logger))
		if cerr != nil {
			log.Error("intent classifier init failed", "error", cerr)
			os.Exit(1)
		}
		defer classifier.Close()
		pipelineOpts = append(pipelineOpts, voice.WithClassifier(classifier))
	}
	pipeline := voice.NewPipeline(sttProvider, chatProvider, ttsProvider, store, pipelineOpts...)

	runner := voice.NewRunner(cfg.MaxSessions/10+1, cfg.MaxSessions, logger)
	go runner.Run(ctx)

	reaper := session.NewReaper(registry, cfg.ReapInterval, cfg.MaxInactive, logger)
	go reaper.Run(ctx)

	flushPolicy := vad.Config{
		SilenceThreshold: cfg.SilenceThreshold,
		SilenceDuration:  cfg.SilenceDuration,
		NoSpeechTimeout:  cfg.NoSpeechTimeout,
		MaxUtterance:     cfg.MaxUtterance,
		MinChunks:        cfg.MinChunks,
	}
	gatewayOpts := []gateway.Option{
		gateway.WithFlushPolicy(flushPolicy),
		gateway.WithLogger(logger),
	}
	if cfg.DeepgramAPIKey != "" {
		gatewayOpts = append(gatewayOpts, gateway.WithLiveSTT(func(ctx context.Context) (stt.LiveStream, error) {
			live, lerr := stt.NewLive(
				stt.WithAPIKey(cfg.DeepgramAPIKey),
				stt.WithLanguage(cfg.Language),
				stt.WithLogger(logger),
			)
			if lerr != nil {
				return nil, lerr
			}
			if lerr := live.Start(ctx, cfg.Language); lerr != nil {
				return nil, lerr
			}
			return live, nil
		}))
	}
	gw := gateway.New(registry, pipeline, runner, gatewayOpts...)

	server := web.NewServer(cfg.Port, sttProvider, ttsProvider, chatProvider, store, registry, gw,
		web.WithStaticDir(cfg.StaticDir),
		web.WithLanguage(cfg.Language),
		web.WithLogger(logger),
	)

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	log.Info("starting voicebridge",
		"port", cfg.Port,
		"chat_provider", cfg.ChatProvider,
		"max_sessions", cfg.MaxSessions,
	)
	if err := server.Start(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// newTTSProvider builds the synthesis backend. When a fallback voice
// is configured, the primary provider is chained with a standard-model
// fallback so synthesis survives a failing primary voice or model.
func newTTSProvider(cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	primary, err := tts.NewOpenAI(
		tts.WithAPIKey(cfg.OpenAIAPIKey),
		tts.WithVoice(cfg.TTSVoice),
		tts.WithModel(cfg.TTSModel),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if cfg.TTSFallbackVoice == "" {
		return primary, nil
	}

	fallback, err := tts.NewOpenAI(
		tts.WithAPIKey(cfg.OpenAIAPIKey),
		tts.WithVoice(cfg.TTSFallbackVoice),
		tts.WithModel(tts.ModelTTS1),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return tts.NewChainWithLogger(logger, primary, fallback)
}

// newChatProvider selects the completion backend from configuration.
func newChatProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (chat.Provider, error) {
	common := []chat.Option{
		chat.WithTemperature(cfg.Temperature),
		chat.WithMaxTokens(cfg.MaxTokens),
		chat.WithSystemPrompt(cfg.SystemPrompt),
		chat.WithLogger(logger),
	}

	switch cfg.ChatProvider {
	case "gemini":
		opts := append(common, chat.WithAPIKey(cfg.GeminiAPIKey))
		// CHAT_MODEL defaults to an OpenAI model; only forward it when
		// it actually names a Gemini one.
		if strings.HasPrefix(cfg.ChatModel, "gemini") {
			opts = append(opts, chat.WithModel(cfg.ChatModel))
		}
		return chat.NewGemini(ctx, opts...)
	case "openai":
		return chat.NewOpenAI(append(common,
			chat.WithAPIKey(cfg.OpenAIAPIKey),
			chat.WithModel(cfg.ChatModel),
		)...)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.ChatProvider)
	}
}
