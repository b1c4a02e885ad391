// Package workspace manages the working output area that pipeline steps write
// into and archives it once a run ends.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"videolingo/internal/fileutil"
	"videolingo/internal/logging"
)

// Prepare empties the output area, creating it when missing.
func Prepare(ctx context.Context, outputDir string, logger *slog.Logger) error {
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return errors.New("prepare output area: output directory is empty")
	}
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("clear output area: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output area: %w", err)
	}
	if logger != nil {
		logging.WithContext(ctx, logger).Debug("output area prepared",
			logging.String(logging.FieldEventType, "workspace_prepared"),
			logging.String("path", outputDir),
		)
	}
	return nil
}

// Archiver moves the output area under a success or error directory. It
// satisfies pipeline.Cleanup.
type Archiver struct {
	outputDir string
	name      string
	logger    *slog.Logger
}

// NewArchiver returns an Archiver that files the output area as name.
func NewArchiver(outputDir, name string, logger *slog.Logger) *Archiver {
	return &Archiver{
		outputDir: outputDir,
		name:      SanitizeName(name),
		logger:    logging.NewComponentLogger(logger, "workspace"),
	}
}

// Finalize archives a successful run into dir.
func (a *Archiver) Finalize(ctx context.Context, dir string) error {
	return a.archive(ctx, dir, "success")
}

// Quarantine archives a failed run into dir.
func (a *Archiver) Quarantine(ctx context.Context, dir string) error {
	return a.archive(ctx, dir, "failure")
}

func (a *Archiver) archive(ctx context.Context, dir, outcome string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("archive %s: target directory is empty", outcome)
	}
	entries, err := os.ReadDir(a.outputDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read output area: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	target := fileutil.UniquePath(filepath.Join(dir, a.name))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	var errs []error
	moved := 0
	for _, entry := range entries {
		src := filepath.Join(a.outputDir, entry.Name())
		if err := fileutil.Move(src, filepath.Join(target, entry.Name())); err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", entry.Name(), err))
			continue
		}
		moved++
	}

	logger := logging.WithContext(ctx, a.logger)
	if err := errors.Join(errs...); err != nil {
		logging.WarnWithContext(logger, "output area archived with errors", "workspace_archive_partial",
			logging.String("outcome", outcome),
			logging.String("target", target),
			logging.Int("moved", moved),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on "+dir),
			logging.String(logging.FieldImpact, "some outputs remain in the working area"),
		)
		return err
	}
	logger.Info("output area archived",
		logging.String(logging.FieldEventType, "workspace_archived"),
		logging.String("outcome", outcome),
		logging.String("target", target),
		logging.Int("entries", moved),
	)
	return nil
}

// SanitizeName turns an input file name or URL into a directory-safe label.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, "://") {
		name = strings.TrimRight(name, "/")
		if idx := strings.LastIndexAny(name, "/=?"); idx >= 0 && idx < len(name)-1 {
			name = name[idx+1:]
		}
	} else {
		name = filepath.Base(name)
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r < ' ':
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "run"
	}
	return out
}
