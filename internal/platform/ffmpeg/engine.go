package ffmpeg

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/avmerge/internal/config"
	"github.com/phrazzld/avmerge/internal/engine"
)

// Engine merges video and audio by shelling out to ffmpeg.
type Engine struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
	logger      *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Engine) {
		e.runner = r
	}
}

// New creates an Engine using the binaries named in cfg.
func New(cfg config.EngineConfig, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		runner:      ExecRunner{},
		logger:      logger.With("component", "ffmpeg"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge implements engine.Engine.
func (e *Engine) Merge(ctx context.Context, req engine.Request) error {
	log := e.logger.With("mode", req.Mode)

	video, err := e.Probe(ctx, req.VideoPath)
	if err != nil {
		return err
	}
	if !video.HasVideo {
		return engine.NewError(engine.KindUnsupportedCodec, "video file has no video stream", nil)
	}
	if video.Duration <= 0 {
		return engine.NewError(engine.KindCorruptInput, "video file has no readable duration", nil)
	}

	audio, err := e.Probe(ctx, req.AudioPath)
	if err != nil {
		return err
	}
	if !audio.HasAudio {
		return engine.NewError(engine.KindUnsupportedCodec, "audio file has no audio stream", nil)
	}
	if audio.Duration <= 0 {
		return engine.NewError(engine.KindCorruptInput, "audio file has no readable duration", nil)
	}

	plan := NewPlan(req.Mode, video, audio)
	log.Info("probed inputs",
		"video_duration", video.Duration,
		"audio_duration", audio.Duration,
		"video_codec", video.VideoCodec,
		"audio_codec", audio.AudioCodec,
		"loop_video", plan.LoopVideo,
		"mix_audio", plan.MixAudio)
	req.Report(plan.Message)

	req.Report(MessageWriting)
	start := time.Now()
	out, err := e.runner.Run(ctx, e.ffmpegPath, plan.Args(req.VideoPath, req.AudioPath, req.OutputPath)...)
	if err != nil {
		engErr := classify(ctx, engine.KindExec, out.Stderr, err)
		log.Error("ffmpeg failed",
			"kind", engErr.Kind,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return engErr
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.NewError(engine.KindTimeout, "processing exceeded the time limit", ctx.Err())
	}

	log.Debug("ffmpeg finished", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
