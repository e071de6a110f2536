// Package encoder renders an ordered list of media files into a single
// output through ffmpeg.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
	"mimic-export/constant"
)

var commandContext = exec.CommandContext

var ErrInvalidOptions = errors.New("invalid encode options")

// Encoder concatenates inputs in the given order into output. On failure no
// usable output is left behind.
type Encoder interface {
	Encode(ctx context.Context, inputs []string, output string, opts Options) error
}

type Options struct {
	Format  constant.ExportFormat
	FPS     int
	Quality constant.ExportQuality
}

type Resolution struct {
	Width   int
	Height  int
	Bitrate string // e.g., "3000k"
}

var resolutions = map[constant.ExportQuality]Resolution{
	constant.ExportQuality480p:  {Width: 854, Height: 480, Bitrate: "1500k"},
	constant.ExportQuality720p:  {Width: 1280, Height: 720, Bitrate: "3000k"},
	constant.ExportQuality1080p: {Width: 1920, Height: 1080, Bitrate: "6000k"},
}

// ResolutionFor returns the fixed preset for a quality.
func ResolutionFor(q constant.ExportQuality) (Resolution, bool) {
	r, ok := resolutions[q]
	return r, ok
}

type FFmpeg struct {
	binary string
}

type Option func(*FFmpeg)

func WithBinary(binary string) Option {
	return func(f *FFmpeg) {
		if binary != "" {
			f.binary = binary
		}
	}
}

func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FFmpeg) Encode(ctx context.Context, inputs []string, output string, opts Options) error {
	args, err := BuildArgs(inputs, output, opts)
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Int("input_count", len(inputs)).
		Str("output", output).
		Strs("ffmpeg_args", args).
		Msg("executing ffmpeg")

	cmd := commandContext(ctx, f.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// ffmpeg writes to the real filesystem, so its partial output is removed there too.
		if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			zerolog.Ctx(ctx).Warn().Err(rmErr).Str("output", output).Msg("failed to remove partial output")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg execution failed: %w\nOutput: %s", err, tail(string(out), 2048))
	}

	return nil
}

// BuildArgs produces the ffmpeg command line. Every input is scaled and
// padded to the preset frame, resampled to the target fps and concatenated
// with its audio track.
func BuildArgs(inputs []string, output string, opts Options) ([]string, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one input is required", ErrInvalidOptions)
	}
	if output == "" {
		return nil, fmt.Errorf("%w: output path is required", ErrInvalidOptions)
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("%w: fps must be positive, got %d", ErrInvalidOptions, opts.FPS)
	}
	r, ok := resolutions[opts.Quality]
	if !ok {
		return nil, fmt.Errorf("%w: unknown quality %q", ErrInvalidOptions, opts.Quality)
	}
	codecs, ok := codecArgs(opts.Format)
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidOptions, opts.Format)
	}

	args := []string{"-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	var filter strings.Builder
	for i := range inputs {
		filter.WriteString(fmt.Sprintf(
			"[%d:v]scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2,setsar=1,fps=%d[v%d]; ",
			i, r.Width, r.Height, r.Width, r.Height, opts.FPS, i))
		filter.WriteString(fmt.Sprintf("[%d:a]aresample=48000[a%d]; ", i, i))
	}
	for i := range inputs {
		filter.WriteString(fmt.Sprintf("[v%d][a%d]", i, i))
	}
	filter.WriteString(fmt.Sprintf("concat=n=%d:v=1:a=1[outv][outa]", len(inputs)))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[outv]",
		"-map", "[outa]",
	)
	args = append(args, codecs...)
	args = append(args,
		"-b:v", r.Bitrate,
		"-maxrate", r.Bitrate,
		"-bufsize", r.Bitrate,
		"-r", fmt.Sprintf("%d", opts.FPS),
		output,
	)
	return args, nil
}

func codecArgs(format constant.ExportFormat) ([]string, bool) {
	switch format {
	case constant.ExportFormatMP4:
		return []string{"-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac", "-b:a", "192k", "-movflags", "+faststart"}, true
	case constant.ExportFormatWebM:
		return []string{"-c:v", "libvpx-vp9", "-c:a", "libopus", "-b:a", "128k"}, true
	}
	return nil, false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
