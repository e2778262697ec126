package ffmpeg

import (
	"math"
	"strconv"

	"github.com/phrazzld/avmerge/internal/domain"
)

// Progress messages reported while planning and encoding.
const (
	MessageAudioLonger    = "Audio is longer - looping video to match"
	MessageVideoLonger    = "Video is longer - trimming to match audio"
	MessageDurationsMatch = "Video and audio durations match"
	MessageWriting        = "Writing merged video file"
)

// durationTolerance is the difference in seconds below which two inputs are
// considered equally long.
const durationTolerance = 0.01

// Plan is the encoding decision derived from the probed inputs. The output is
// always exactly as long as the audio.
type Plan struct {
	LoopVideo bool
	MixAudio  bool
	Duration  float64
	Message   string
}

// NewPlan decides how to combine video and audio for mode.
func NewPlan(mode domain.Mode, video, audio MediaInfo) Plan {
	p := Plan{Duration: audio.Duration}

	diff := audio.Duration - video.Duration
	switch {
	case math.Abs(diff) < durationTolerance:
		p.Message = MessageDurationsMatch
	case diff > 0:
		p.Message = MessageAudioLonger
		p.LoopVideo = true
	default:
		p.Message = MessageVideoLonger
	}

	switch mode {
	case domain.ModeLoopToAudio:
		p.LoopVideo = true
	case domain.ModeMerge:
		p.MixAudio = video.HasAudio
	}
	return p
}

// Args renders the ffmpeg command line for the plan.
func (p Plan) Args(videoPath, audioPath, outputPath string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}

	if p.LoopVideo {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", videoPath, "-i", audioPath)

	if p.MixAudio {
		args = append(args,
			"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=longest:dropout_transition=0[aout]",
			"-map", "0:v:0",
			"-map", "[aout]",
		)
	} else {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	}

	return append(args,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-t", formatSeconds(p.Duration),
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	)
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}
