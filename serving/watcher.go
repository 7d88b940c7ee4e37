package serving

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactWatcher reports on-disk changes to a loaded artifact. A loaded
// handle is never replaced, so changes only take effect on a new instance.
type ArtifactWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// WatchArtifact watches the directory holding path so atomic renames over the
// artifact are seen. onChange runs on the watcher goroutine.
func WatchArtifact(ctx context.Context, path string, logger *zap.Logger, onChange func(path, op string)) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	aw := &ArtifactWatcher{
		path:    abs,
		watcher: w,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	logger = logger.Named("watcher")

	go func() {
		defer close(aw.done)
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				logger.Warn("model artifact changed on disk; restart to pick it up",
					zap.String("path", abs),
					zap.String("op", event.Op.String()))
				if onChange != nil {
					onChange(abs, event.Op.String())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("artifact watcher error", zap.Error(err))
			}
		}
	}()
	return aw, nil
}

func (aw *ArtifactWatcher) Path() string {
	return aw.path
}

// Close stops the watcher and waits for its goroutine to exit.
func (aw *ArtifactWatcher) Close() error {
	aw.cancel()
	<-aw.done
	return nil
}
