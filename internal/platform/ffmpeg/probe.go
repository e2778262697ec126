package ffmpeg

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/phrazzld/avmerge/internal/engine"
)

// MediaInfo is the subset of ffprobe output the planner needs.
type MediaInfo struct {
	Duration   float64
	HasVideo   bool
	HasAudio   bool
	VideoCodec string
	AudioCodec string
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Duration  string `json:"duration"`
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Probe inspects the file at path with ffprobe.
func (e *Engine) Probe(ctx context.Context, path string) (MediaInfo, error) {
	out, err := e.runner.Run(ctx, e.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return MediaInfo{}, classify(ctx, engine.KindProbe, out.Stderr, err)
	}

	info, err := parseProbe(out.Stdout)
	if err != nil {
		return MediaInfo{}, engine.NewError(engine.KindProbe, "could not read media information", err)
	}
	return info, nil
}

func parseProbe(data []byte) (MediaInfo, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return MediaInfo{}, err
	}

	var info MediaInfo
	var streamDuration float64
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if !info.HasVideo {
				info.HasVideo = true
				info.VideoCodec = s.CodecName
			}
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = s.CodecName
			}
		default:
			continue
		}
		if d := parseSeconds(s.Duration); d > streamDuration {
			streamDuration = d
		}
	}

	info.Duration = parseSeconds(raw.Format.Duration)
	if info.Duration <= 0 {
		info.Duration = streamDuration
	}
	return info, nil
}

func parseSeconds(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
