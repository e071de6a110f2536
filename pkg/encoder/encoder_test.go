package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mimic-export/constant"
)

func defaultOptions() Options {
	return Options{Format: constant.ExportFormatMP4, FPS: 30, Quality: constant.ExportQuality720p}
}

func TestBuildArgsKeepsInputOrder(t *testing.T) {
	inputs := []string{"/rec/video.mp4", "/rec/take1.webm", "/rec/take2.webm"}
	args, err := BuildArgs(inputs, "/exports/out.mp4", defaultOptions())
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	var got []string
	for i, arg := range args {
		if arg == "-i" {
			got = append(got, args[i+1])
		}
	}
	if strings.Join(got, ",") != strings.Join(inputs, ",") {
		t.Fatalf("expected inputs %v, got %v", inputs, got)
	}
	if args[len(args)-1] != "/exports/out.mp4" {
		t.Fatalf("expected output last, got %q", args[len(args)-1])
	}

	filter := args[findArg(args, "-filter_complex")+1]
	if !strings.Contains(filter, "[v0][a0][v1][a1][v2][a2]concat=n=3:v=1:a=1[outv][outa]") {
		t.Fatalf("unexpected concat filter: %s", filter)
	}
	if !strings.Contains(filter, "scale=w=1280:h=720") {
		t.Fatalf("expected 720p scale in filter: %s", filter)
	}
}

func TestBuildArgsCodecs(t *testing.T) {
	tests := []struct {
		name    string
		format  constant.ExportFormat
		quality constant.ExportQuality
		codec   string
		bitrate string
	}{
		{name: "mp4 1080p", format: constant.ExportFormatMP4, quality: constant.ExportQuality1080p, codec: "libx264", bitrate: "6000k"},
		{name: "webm 480p", format: constant.ExportFormatWebM, quality: constant.ExportQuality480p, codec: "libvpx-vp9", bitrate: "1500k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := BuildArgs([]string{"a"}, "out", Options{Format: tt.format, FPS: 24, Quality: tt.quality})
			if err != nil {
				t.Fatalf("BuildArgs: %v", err)
			}
			if args[findArg(args, "-c:v")+1] != tt.codec {
				t.Fatalf("expected codec %s, got %v", tt.codec, args)
			}
			if args[findArg(args, "-b:v")+1] != tt.bitrate {
				t.Fatalf("expected bitrate %s, got %v", tt.bitrate, args)
			}
			if args[findArg(args, "-r")+1] != "24" {
				t.Fatalf("expected fps 24, got %v", args)
			}
		})
	}
}

func TestBuildArgsValidation(t *testing.T) {
	tests := []struct {
		name   string
		inputs []string
		output string
		opts   Options
	}{
		{name: "no inputs", inputs: nil, output: "out", opts: defaultOptions()},
		{name: "no output", inputs: []string{"a"}, output: "", opts: defaultOptions()},
		{name: "zero fps", inputs: []string{"a"}, output: "out", opts: Options{Format: constant.ExportFormatMP4, Quality: constant.ExportQuality720p}},
		{name: "bad quality", inputs: []string{"a"}, output: "out", opts: Options{Format: constant.ExportFormatMP4, FPS: 30, Quality: "4k"}},
		{name: "bad format", inputs: []string{"a"}, output: "out", opts: Options{Format: "avi", FPS: 30, Quality: constant.ExportQuality720p}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildArgs(tt.inputs, tt.output, tt.opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestEncodeSuccess(t *testing.T) {
	var capturedName string
	setHelperCommand(t, "success", &capturedName)

	output := filepath.Join(t.TempDir(), "out.mp4")
	f := NewFFmpeg(WithBinary("/opt/ffmpeg"))
	if err := f.Encode(context.Background(), []string{"a.webm"}, output, defaultOptions()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if capturedName != "/opt/ffmpeg" {
		t.Fatalf("expected binary override, got %q", capturedName)
	}
}

func TestEncodeFailureRemovesPartialOutput(t *testing.T) {
	setHelperCommand(t, "failure", nil)

	output := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(output, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := NewFFmpeg().Encode(context.Background(), []string{"a.webm"}, output, defaultOptions())
	if err == nil {
		t.Fatal("expected encode failure")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected ffmpeg output in error, got %v", err)
	}
	if _, statErr := os.Stat(output); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected partial output removed, stat err %v", statErr)
	}
}

func TestEncodeHonoursContext(t *testing.T) {
	setHelperCommand(t, "hang", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	output := filepath.Join(t.TempDir(), "out.mp4")
	err := NewFFmpeg().Encode(ctx, []string{"a.webm"}, output, defaultOptions())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewFFmpegIgnoresEmptyBinary(t *testing.T) {
	if f := NewFFmpeg(WithBinary("")); f.binary != "ffmpeg" {
		t.Fatalf("expected default binary, got %q", f.binary)
	}
}

func setHelperCommand(t *testing.T, mode string, capturedName *string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if capturedName != nil {
			*capturedName = name
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("FFMPEG_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "success":
		fmt.Println("frame=  300 fps=120 q=-1.0 Lsize=    1024kB")
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "a.webm: Invalid data found when processing input")
		os.Exit(1)
	case "hang":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}

func findArg(args []string, target string) int {
	for i, arg := range args {
		if arg == target {
			return i
		}
	}
	return -1
}
