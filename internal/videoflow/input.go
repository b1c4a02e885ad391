package videoflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"videolingo/internal/fileutil"
	"videolingo/internal/logging"
	"videolingo/internal/pipeline"
	"videolingo/internal/services"
)

// InputStepName is the name of the first step of every run.
const InputStepName = "Processing input file"

// KeyVideoFile is the state key holding the staged video path.
const KeyVideoFile = "video_file"

// IsURL reports whether input should be fetched rather than copied.
func IsURL(input string) bool {
	lower := strings.ToLower(strings.TrimSpace(input))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (p *Processor) inputStep(input string) pipeline.Step {
	return pipeline.Step{
		Name: InputStepName,
		Action: func(ctx context.Context, _ pipeline.Values) (map[string]any, error) {
			var (
				path string
				err  error
			)
			if IsURL(input) {
				path, err = p.download(ctx, input)
			} else {
				path, err = p.stageLocal(input)
			}
			if err != nil {
				return nil, err
			}
			logging.WithContext(ctx, p.logger).Info("input staged",
				logging.String(logging.FieldEventType, "input_staged"),
				logging.String(KeyVideoFile, path),
			)
			return map[string]any{KeyVideoFile: path}, nil
		},
	}
}

// stageLocal copies a local input into the output area. Relative names are
// resolved against the input directory first.
func (p *Processor) stageLocal(input string) (string, error) {
	source := strings.TrimSpace(input)
	if !filepath.IsAbs(source) {
		candidate := filepath.Join(p.cfg.Paths.InputDir, source)
		if _, err := os.Stat(candidate); err == nil {
			source = candidate
		}
	}
	if _, err := os.Stat(source); err != nil {
		return "", services.Wrap(services.ErrStepFailure, "videoflow", "stage input", "input not found: "+input, err)
	}
	dest := filepath.Join(p.cfg.Paths.OutputDir, filepath.Base(source))
	if err := fileutil.CopyFileVerified(source, dest); err != nil {
		return "", services.Wrap(services.ErrStepFailure, "videoflow", "stage input", "copy "+source, err)
	}
	return dest, nil
}

// download fetches url into the output area with the configured downloader and
// returns the newest video file it produced.
func (p *Processor) download(ctx context.Context, url string) (string, error) {
	downloader := p.cfg.Pipeline.Downloader
	if len(downloader) == 0 {
		return "", services.Wrap(services.ErrConfiguration, "videoflow", "download", "pipeline.downloader is empty", nil)
	}
	args := append(append([]string(nil), downloader[1:]...),
		"-f", formatSelector(p.cfg.Pipeline.YTResolution),
		"-o", filepath.Join(p.cfg.Paths.OutputDir, "%(title)s.%(ext)s"),
		url,
	)
	cmd := exec.CommandContext(ctx, downloader[0], args...) //nolint:gosec // operator-configured downloader
	cmd.Dir = p.cfg.Paths.OutputDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "videoflow", "download",
			fmt.Sprintf("%s failed: %s", downloader[0], tail(string(output), 5)), err)
	}
	path, err := newestVideo(p.cfg.Paths.OutputDir, p.cfg.Pipeline.VideoSuffixes)
	if err != nil {
		return "", services.Wrap(services.ErrStepFailure, "videoflow", "download", "locate downloaded video", err)
	}
	return path, nil
}

func formatSelector(resolution string) string {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" || strings.EqualFold(resolution, "best") {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", resolution, resolution)
}

// newestVideo returns the most recently modified file in dir whose extension
// is one of suffixes.
func newestVideo(dir string, suffixes []string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		best     string
		bestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !hasVideoSuffix(entry.Name(), suffixes) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = filepath.Join(dir, entry.Name())
			bestTime = info.ModTime()
		}
	}
	if best == "" {
		return "", errors.New("no video file found in " + dir)
	}
	return best, nil
}

func hasVideoSuffix(name string, suffixes []string) bool {
	return slices.Contains(suffixes, strings.ToLower(filepath.Ext(name)))
}

func tail(text string, lines int) string {
	parts := strings.Split(strings.TrimSpace(text), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, " | ")
}
