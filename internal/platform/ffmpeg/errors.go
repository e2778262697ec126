package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/phrazzld/avmerge/internal/redact"
)

var corruptMarkers = []string{
	"invalid data found when processing input",
	"moov atom not found",
	"unexpected end of file",
	"error while decoding",
}

var codecMarkers = []string{
	"unknown encoder",
	"unknown decoder",
	"could not find codec parameters",
	"decoder not found",
	"not currently supported",
	"no decoder for",
}

// classify turns a failed command into an engine error. fallback is the kind
// used when stderr matches nothing more specific.
func classify(ctx context.Context, fallback engine.Kind, stderr []byte, err error) *engine.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.NewError(engine.KindTimeout, "processing exceeded the time limit", err)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return engine.NewError(engine.KindExec, "media tool is not installed", err)
	}

	lower := strings.ToLower(string(stderr))
	for _, m := range corruptMarkers {
		if strings.Contains(lower, m) {
			return engine.NewError(engine.KindCorruptInput, "input file is corrupt or truncated", err)
		}
	}
	for _, m := range codecMarkers {
		if strings.Contains(lower, m) {
			return engine.NewError(engine.KindUnsupportedCodec, "input uses an unsupported codec", err)
		}
	}

	detail := lastLine(stderr)
	if detail == "" {
		detail = err.Error()
	}
	return engine.NewError(fallback, redact.String(detail), err)
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(bytes.TrimSpace(b))
}
