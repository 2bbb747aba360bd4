package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// ErrNoVideoStream is returned when a source has nothing to encode
var ErrNoVideoStream = errors.New("source has no video stream")

// commandRunner runs an external program to completion and returns what it
// wrote to stdout and stderr.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FFmpeg wraps the ffmpeg and ffprobe binaries
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      execRunner{},
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// VideoStream returns the first video stream, if any
func (m *VideoMetadata) VideoStream() (StreamInfo, bool) {
	for _, stream := range m.Streams {
		if stream.CodecType == "video" {
			return stream, true
		}
	}
	return StreamInfo{}, false
}

// HasAudio reports whether the source carries an audio stream
func (m *VideoMetadata) HasAudio() bool {
	for _, stream := range m.Streams {
		if stream.CodecType == "audio" {
			return true
		}
	}
	return false
}

// Duration returns the container duration in seconds, or 0 if unknown
func (m *VideoMetadata) Duration() float64 {
	d, err := strconv.ParseFloat(m.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

// ProbeVideo extracts metadata from a video file and checks that it holds a
// video stream.
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	stdout, stderr, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr)
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if _, ok := metadata.VideoStream(); !ok {
		return nil, fmt.Errorf("inspect %s: %w", inputPath, ErrNoVideoStream)
	}

	return &metadata, nil
}
