package videoflow

import (
	"context"
	"fmt"
	"os"
	"sort"

	"videolingo/internal/logging"
	"videolingo/internal/services"
)

// BatchItem is the outcome for one input of a batch.
type BatchItem struct {
	Input   string
	Report  Report
	Err     error
	Retried bool
}

// OK reports whether the input ended successfully.
func (b BatchItem) OK() bool {
	return b.Err == nil && b.Report.Result.OK
}

// Inputs lists the video files in the input directory in name order.
func (p *Processor) Inputs() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Paths.InputDir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}
	var inputs []string
	for _, entry := range entries {
		if entry.IsDir() || !hasVideoSuffix(entry.Name(), p.cfg.Pipeline.VideoSuffixes) {
			continue
		}
		inputs = append(inputs, entry.Name())
	}
	sort.Strings(inputs)
	return inputs, nil
}

// Batch processes every input in turn. With pipeline.batch_retry set, a failed
// input is retried once without clearing the output area. Cancellation stops
// the batch after the current input.
func (p *Processor) Batch(ctx context.Context, opts Options) ([]BatchItem, error) {
	inputs, err := p.Inputs()
	if err != nil {
		return nil, err
	}
	items := make([]BatchItem, 0, len(inputs))
	for index, input := range inputs {
		if ctx.Err() != nil {
			break
		}
		p.logger.Info("batch input",
			logging.String(logging.FieldEventType, "batch_item_start"),
			logging.String("input", input),
			logging.Int("position", index+1),
			logging.Int("total", len(inputs)),
		)
		item := BatchItem{Input: input}
		item.Report, item.Err = p.Process(ctx, input, opts)
		if !item.OK() && p.cfg.Pipeline.BatchRetry && ctx.Err() == nil && (item.Err == nil || services.Retryable(item.Err)) {
			retryOpts := opts
			retryOpts.Retry = true
			item.Retried = true
			item.Report, item.Err = p.Process(ctx, input, retryOpts)
		}
		items = append(items, item)
	}
	return items, ctx.Err()
}
