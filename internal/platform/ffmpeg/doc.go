// Package ffmpeg implements engine.Engine with the ffprobe and ffmpeg
// command-line tools. Inputs are probed for duration and streams, a Plan is
// derived from the mode, and a single ffmpeg invocation writes the output.
package ffmpeg
