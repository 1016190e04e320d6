package cli

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/pcdgrasp/utils"
)

var cloudExtensions = []string{".pcd", ".ply", ".las"}

func isCloudFile(fn string) bool {
	return lo.Contains(cloudExtensions, strings.ToLower(filepath.Ext(fn)))
}

// settler reports a file on ready once it has gone delay without another write.
type settler struct {
	delay time.Duration
	ready chan<- string
	done  <-chan struct{}

	mu         sync.Mutex
	debouncers map[string]func(func())
	waiting    map[string]struct{}
}

func newSettler(delay time.Duration, ready chan<- string, done <-chan struct{}) *settler {
	return &settler{
		delay:      delay,
		ready:      ready,
		done:       done,
		debouncers: map[string]func(func()){},
		waiting:    map[string]struct{}{},
	}
}

func (s *settler) touch(fn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	debounced, ok := s.debouncers[fn]
	if !ok {
		debounced = debounce.New(s.delay)
		s.debouncers[fn] = debounced
	}
	s.waiting[fn] = struct{}{}
	debounced(func() {
		s.mu.Lock()
		_, current := s.waiting[fn]
		delete(s.waiting, fn)
		s.mu.Unlock()
		if !current {
			return
		}
		select {
		case s.ready <- fn:
		case <-s.done:
		}
	})
}

func (s *settler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// stop drops every waiting file. Debounced calls that fire later find nothing to report.
func (s *settler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = map[string]struct{}{}
}

// WatchAction registers each cloud file created in a directory, one at a time, until the context
// is cancelled.
func WatchAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected one directory to watch")
	}
	dir := c.Args().First()
	logger, closeLog := newLogger(c)
	defer closeLog()

	pipeline, cfg, err := loadPipeline(c, logger)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warnw("failed to close watcher", "error", err)
		}
	}()
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %q", dir)
	}
	infof(c.App.ErrWriter, "watching %s for point clouds", dir)

	ready := make(chan string)
	workers := utils.NewStoppableWorkersWithContext(c.Context)
	defer workers.Stop()
	pending := newSettler(c.Duration(flagSettle), ready, workers.Context().Done())
	defer pending.stop()

	minFitness := cfg.Registration.MinFitness
	asJSON := c.Bool(flagJSON)
	workers.AddWorkers(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-ready:
				o := registerFile(ctx, pipeline, fn, logger)
				if err := writeOutcomes(c.App.Writer, c.App.ErrWriter, []outcome{o}, minFitness, asJSON); err != nil {
					logger.Warnw("failed to write result", "file", fn, "error", err)
				}
			}
		}
	})

	for {
		select {
		case <-c.Context.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isCloudFile(event.Name) {
				logger.Debugw("cloud file changed", "file", event.Name, "op", event.Op.String())
				pending.touch(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("watch error", "error", err)
		}
	}
}
