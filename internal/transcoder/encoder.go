package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Output names the files one job's renditions are written to. A staging
// directory handle satisfies it.
type Output interface {
	PlaylistPath(spec models.RenditionSpec) string
	SegmentPattern(spec models.RenditionSpec) string
}

// EncoderOptions holds the settings shared by every rendition of a job.
// SegmentDuration is constant across renditions so players can switch
// between them on segment boundaries.
type EncoderOptions struct {
	VideoCodec      string
	AudioCodec      string
	AudioBitrate    int // kbps
	Preset          string
	SegmentDuration int // seconds
	Timeout         time.Duration
	MaxConcurrent   int
}

// Encoder produces HLS renditions with ffmpeg
type Encoder struct {
	ffmpeg *FFmpeg
	opts   EncoderOptions
	logger *logging.Logger
}

// NewEncoder creates an Encoder, filling unset options with defaults
func NewEncoder(ffmpeg *FFmpeg, opts EncoderOptions, logger *logging.Logger) *Encoder {
	if opts.VideoCodec == "" {
		opts.VideoCodec = "libx264"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "aac"
	}
	if opts.AudioBitrate <= 0 {
		opts.AudioBitrate = 128
	}
	if opts.Preset == "" {
		opts.Preset = "veryfast"
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = 6
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Encoder{ffmpeg: ffmpeg, opts: opts, logger: logger}
}

// NewEncoderFromConfig builds an Encoder from the encoder settings
func NewEncoderFromConfig(cfg config.EncoderConfig, logger *logging.Logger) *Encoder {
	return NewEncoder(NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath), EncoderOptions{
		VideoCodec:      cfg.VideoCodec,
		AudioCodec:      cfg.AudioCodec,
		AudioBitrate:    cfg.AudioBitrate,
		Preset:          cfg.Preset,
		SegmentDuration: cfg.SegmentDuration,
		Timeout:         cfg.Timeout,
		MaxConcurrent:   cfg.MaxConcurrent,
	}, logger)
}

// FFmpeg returns the wrapped binaries, used for probing sources
func (e *Encoder) FFmpeg() *FFmpeg {
	return e.ffmpeg
}

// Args returns the ffmpeg arguments for one rendition
func (e *Encoder) Args(sourcePath string, out Output, spec models.RenditionSpec) []string {
	return []string{
		"-hide_banner",
		"-y",
		"-i", sourcePath,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-s", spec.Resolution(),
		"-c:v", e.opts.VideoCodec,
		"-b:v", fmt.Sprintf("%dk", spec.Bitrate),
		"-preset", e.opts.Preset,
		"-c:a", e.opts.AudioCodec,
		"-b:a", fmt.Sprintf("%dk", e.opts.AudioBitrate),
		"-f", "hls",
		"-hls_time", strconv.Itoa(e.opts.SegmentDuration),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", out.SegmentPattern(spec),
		out.PlaylistPath(spec),
	}
}

// Encode runs ffmpeg for one rendition and blocks until it exits. The
// sub-playlist is read back once ffmpeg is done; a playlist that is missing
// or lists no segments fails the rendition.
func (e *Encoder) Encode(ctx context.Context, sourcePath string, out Output, spec models.RenditionSpec) (*models.RenditionArtifact, error) {
	logger := e.logger.WithRendition(spec.Label)
	start := time.Now()

	_, stderr, err := e.ffmpeg.runner.Run(ctx, e.ffmpeg.ffmpegPath, e.Args(sourcePath, out, spec)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		metrics.RecordRenditionFailure(spec.Label, failureReason(err))
		logger.LogEncode(spec.Label, time.Since(start), 0, err)
		return nil, &EncodeError{Label: spec.Label, Err: err, Stderr: string(stderr)}
	}

	playlistPath := out.PlaylistPath(spec)
	segments, err := readSegments(playlistPath)
	if err != nil {
		metrics.RecordRenditionFailure(spec.Label, "playlist")
		logger.LogEncode(spec.Label, time.Since(start), 0, err)
		return nil, &EncodeError{Label: spec.Label, Err: err, Stderr: string(stderr)}
	}

	duration := time.Since(start)
	metrics.RecordRenditionEncode(spec.Label, duration.Seconds())
	logger.LogEncode(spec.Label, duration, len(segments), nil)

	return &models.RenditionArtifact{
		Spec:         spec,
		PlaylistPath: playlistPath,
		Segments:     segments,
	}, nil
}

// EncodeLadder encodes every rendition, at most MaxConcurrent at a time. The
// first failure cancels the remaining encodes, and EncodeLadder still waits
// for every ffmpeg process to exit before returning. Artifacts come back in
// ladder order.
func (e *Encoder) EncodeLadder(ctx context.Context, sourcePath string, out Output, ladder []models.RenditionSpec) ([]*models.RenditionArtifact, error) {
	if len(ladder) == 0 {
		return nil, fmt.Errorf("no renditions to encode")
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	artifacts := make([]*models.RenditionArtifact, len(ladder))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrent)

	for i, spec := range ladder {
		i, spec := i, spec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			artifact, err := e.Encode(gctx, sourcePath, out, spec)
			if err != nil {
				return err
			}
			artifacts[i] = artifact
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrEncodeTimeout, e.opts.Timeout, err)
		}
		return nil, err
	}

	return artifacts, nil
}

// readSegments returns the absolute paths of the segments a media playlist
// lists, in order, after checking each one exists.
func readSegments(playlistPath string) ([]string, error) {
	file, err := os.Open(playlistPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	defer file.Close()

	dir := filepath.Dir(playlistPath)
	var segments []string
	header := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case !header:
			if line != playlistHeader {
				return nil, fmt.Errorf("playlist %s does not start with %s", filepath.Base(playlistPath), playlistHeader)
			}
			header = true
		case strings.HasPrefix(line, "#"):
			continue
		default:
			segment := filepath.Join(dir, filepath.FromSlash(line))
			if _, err := os.Stat(segment); err != nil {
				return nil, fmt.Errorf("segment %s listed but not written: %w", line, err)
			}
			segments = append(segments, segment)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("playlist %s lists no segments", filepath.Base(playlistPath))
	}

	return segments, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "ffmpeg"
	}
}
