package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrEncoderUnavailable is returned when no ffmpeg binary can be resolved.
var ErrEncoderUnavailable = errors.New("ffmpeg encoder not available")

// ---------------------------------------------------------------------------
// Encoder resolution
// Lookup order: configured bundled path, an ffmpeg sitting next to the running
// executable, then "ffmpeg" on PATH.
// ---------------------------------------------------------------------------

// EncoderSource records where the binary was found.
type EncoderSource string

const (
	EncoderSourceBundled EncoderSource = "bundled"
	EncoderSourceSidecar EncoderSource = "sidecar"
	EncoderSourcePath    EncoderSource = "path"
)

// EncoderLocation is the outcome of ResolveEncoder.
type EncoderLocation struct {
	Path   string
	Source EncoderSource
}

// encoderLookup holds the OS hooks so tests can fake the filesystem.
type encoderLookup struct {
	executable func() (string, error)
	stat       func(string) (os.FileInfo, error)
	lookPath   func(string) (string, error)
}

var defaultLookup = encoderLookup{
	executable: os.Executable,
	stat:       os.Stat,
	lookPath:   exec.LookPath,
}

// ResolveEncoder finds an ffmpeg binary. bundled may be empty.
func ResolveEncoder(bundled string) (*EncoderLocation, error) {
	return defaultLookup.resolve(bundled)
}

func (l encoderLookup) resolve(bundled string) (*EncoderLocation, error) {
	if bundled = strings.TrimSpace(bundled); bundled != "" {
		if info, err := l.stat(bundled); err == nil && isExecutable(info) {
			return &EncoderLocation{Path: bundled, Source: EncoderSourceBundled}, nil
		}
		log.Printf("[FFmpeg] Bundled encoder %s not usable, trying sidecar", bundled)
	}

	if exe, err := l.executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), binaryName("ffmpeg"))
		if info, err := l.stat(candidate); err == nil && isExecutable(info) {
			return &EncoderLocation{Path: candidate, Source: EncoderSourceSidecar}, nil
		}
	}

	if p, err := l.lookPath("ffmpeg"); err == nil {
		return &EncoderLocation{Path: p, Source: EncoderSourcePath}, nil
	}

	return nil, ErrEncoderUnavailable
}

func binaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegService wraps a resolved encoder. ffprobe is taken from the same
// directory when present, otherwise from PATH.
func NewFFmpegService(loc *EncoderLocation) *FFmpegService {
	probe := binaryName("ffprobe")
	candidate := filepath.Join(filepath.Dir(loc.Path), probe)
	if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
		probe = candidate
	}
	return &FFmpegService{ffmpegPath: loc.Path, ffprobePath: probe}
}

// ConcatenateClips joins clips with the concat demuxer and stream copy.
// The manifest is written next to the output; callers own the directory.
func (s *FFmpegService) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := filepath.Join(filepath.Dir(outputPath), "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(ConcatManifest(clipPaths)), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}

	log.Printf("[FFmpeg] Concatenating %d clips into %s", len(clipPaths), filepath.Base(outputPath))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg concatenate aborted: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg concatenate failed: %w: %s", err, truncateString(strings.TrimSpace(stderr.String()), 500))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced an empty output")
	}

	return nil
}

// ConcatManifest renders the concat demuxer list for the given files.
func ConcatManifest(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

// GetVideoDuration returns the duration of a video file in seconds using ffprobe.
func (s *FFmpegService) GetVideoDuration(ctx context.Context, videoPath string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	}

	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe video duration failed: %w", err)
	}

	return parseProbeDuration(output)
}

func parseProbeDuration(output []byte) (float64, error) {
	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse video duration: %w", err)
	}
	if durationSec <= 0 {
		return 0, fmt.Errorf("non-positive video duration %f", durationSec)
	}
	return durationSec, nil
}

// Path returns the encoder binary in use.
func (s *FFmpegService) Path() string { return s.ffmpegPath }

func (s *FFmpegService) ProbePath() string { return s.ffprobePath }

// Version runs `ffmpeg -version` and returns its first line.
func (s *FFmpegService) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, s.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version failed: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
