package pipeline

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/logger"
)

// settleDelay gives file writers time to finish before a batch run
// picks their files up. Create events fire as soon as the file
// appears, often before its contents are complete.
const settleDelay = 2 * time.Second

// Watch runs the batch whenever new files land in the input
// directory, until ctx is canceled. Events are debounced: a burst of
// drops triggers a single run after the settle delay.
func (b *Batch) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating filesystem watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(b.inputDir); err != nil {
		return errors.Wrapf(err, "watching input directory %s", b.inputDir)
	}

	b.logger.Infow("watching for new input files",
		logger.FieldFile, b.inputDir,
	)

	// Pick up whatever is already waiting before the first event.
	if _, err := b.Run(ctx); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settleDelay)
				timerC = timer.C
			} else {
				timer.Reset(settleDelay)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := b.Run(ctx); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			b.logger.Warnw("filesystem watcher error",
				logger.FieldError, err,
			)
		}
	}
}
