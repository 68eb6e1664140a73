// LLM-TTS is a speech service: it streams text segments through a language
// model, synthesizes the completions to audio, and plays them on the local
// output device. An HTTP API starts and stops sessions; at most one session
// speaks at a time.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ARIS2333/LLM-TTS/config"
	"github.com/ARIS2333/LLM-TTS/llm"
	"github.com/ARIS2333/LLM-TTS/player"
	"github.com/ARIS2333/LLM-TTS/server"
	"github.com/ARIS2333/LLM-TTS/session"
	"github.com/ARIS2333/LLM-TTS/sound"
	"github.com/ARIS2333/LLM-TTS/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Logging)
	slog.Info("llm-tts starting", "port", cfg.Port, "tts_backend", cfg.TTSBackend,
		"audio_format", cfg.AudioFormat, "audio_backend", cfg.AudioBackend)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Language model backend.
	streamer := llm.NewClient(cfg.DashScopeAPIKey, cfg.LLMModel)

	// Synthesis backend.
	var synth tts.Synthesizer
	switch cfg.TTSBackend {
	case "yandex":
		synth, err = tts.NewYandexClient(cfg.YandexAPIKey, cfg.YandexFolderID)
		if err != nil {
			slog.Error("failed to create yandex tts client", "error", err)
			os.Exit(1)
		}
		slog.Info("using yandex speechkit synthesis", "voice", cfg.TTSVoice)
	default:
		synth = tts.NewDashScopeClient(cfg.DashScopeAPIKey)
		slog.Info("using dashscope synthesis", "model", cfg.TTSModel, "voice", cfg.TTSVoice)
	}
	defer synth.Close()

	// Each session gets a fresh decoder/sink pair.
	newPlayer := func() *player.Player {
		var dec player.Decoder
		if cfg.AudioFormat == "pcm" {
			dec = player.NewPCMDecoder()
		} else {
			dec = player.NewMP3Decoder()
		}
		var sink sound.Sink
		if cfg.AudioBackend == "none" {
			sink = sound.NewNullSink()
		} else {
			sink = sound.NewPortaudioSink()
		}
		return player.New(dec, sink, cfg.SampleRate, slog.Default())
	}

	co := session.New(session.Config{
		Preempt:          cfg.PreemptOnStart,
		StopTimeout:      cfg.StopTimeout,
		StreamMaxRetries: cfg.StreamMaxRetries,
		SystemPrompt:     cfg.SystemPrompt,
		TTSOpts: tts.StreamOpts{
			Model:      cfg.TTSModel,
			Voice:      cfg.TTSVoice,
			Format:     cfg.AudioFormat,
			SampleRate: cfg.SampleRate,
		},
	}, session.Collaborators{LLM: streamer, TTS: synth}, newPlayer, slog.Default())

	srv := server.New(cfg.Port, co, slog.Default())
	if err := srv.Run(ctx); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("llm-tts stopped")
}
