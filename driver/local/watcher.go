package local

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/gobeaver/vfskit"
)

// Watch implements vfskit.CanWatch using fsnotify. Directories are watched
// directly. Files are watched through their parent directory, so replacing
// or creating the file is seen as well. The token fires on the first event
// and the watcher is closed with it.
func (p *Provider) Watch(ctx context.Context, rec *vfskit.Record) (vfskit.ChangeToken, error) {
	path := rec.Address.LocalPath()
	watchPath, filter := path, ""
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		watchPath, filter = filepath.Dir(path), path
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(watchPath); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	token := vfskit.NewCallbackChangeToken(func() {
		close(done)
		w.Close()
	})
	log := p.log.WithField("path", path)

	go func() {
		for {
			select {
			case <-ctx.Done():
				token.Stop()
				return
			case <-done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filter != "" && filepath.Clean(event.Name) != filter {
					continue
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				log.WithField("op", event.Op.String()).Debug("local: change detected")
				token.SignalChange()
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("local: watcher error")
			}
		}
	}()

	return token, nil
}
