package match

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/directory"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/safego"
)

// overridesFile is the on-disk schema of the pinned-match file:
//
//	overrides:
//	  - ein: "061234567"
//	    provider_name: "Example Services, Inc."
//	    profile_url: "https://portal.ct.gov/-/media/dds/provider_alpha/example.pdf"
//	    town: "Hartford"
type overridesFile struct {
	Overrides []overrideEntry `yaml:"overrides"`
}

type overrideEntry struct {
	EIN          string `yaml:"ein"`
	ProviderName string `yaml:"provider_name"`
	ProfileURL   string `yaml:"profile_url"`
	Town         string `yaml:"town"`
}

// Overrides maps EINs to operator-pinned provider entries. The file is
// watched and reloaded on change, so fixing a bad heuristic match does not
// require a restart. Lookups read an atomically swapped map; a reload that
// fails to parse keeps the previous pins in place.
type Overrides struct {
	path    string
	entries atomic.Pointer[map[string]directory.Provider]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadOverrides reads the pinned-match file and starts watching it for
// changes. A missing file is not an error: it loads as zero pins and
// appears live once created.
func LoadOverrides(path string) (*Overrides, error) {
	o := &Overrides{
		path: path,
		done: make(chan struct{}),
	}
	empty := map[string]directory.Provider{}
	o.entries.Store(&empty)

	if err := o.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create overrides watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch overrides directory: %w", err)
	}
	o.watcher = watcher

	safego.Go(o.watch)
	return o, nil
}

// Lookup returns the pinned provider for an EIN, if one exists.
func (o *Overrides) Lookup(ein string) (*directory.Provider, bool) {
	entries := *o.entries.Load()
	p, ok := entries[ein]
	if !ok {
		return nil, false
	}
	return &p, true
}

// Count returns the number of pinned entries currently loaded.
func (o *Overrides) Count() int {
	return len(*o.entries.Load())
}

// Close stops the file watcher.
func (o *Overrides) Close() error {
	close(o.done)
	if o.watcher != nil {
		return o.watcher.Close()
	}
	return nil
}

func (o *Overrides) reload() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		return err
	}

	var parsed overridesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse overrides file %s: %w", o.path, err)
	}

	entries := make(map[string]directory.Provider, len(parsed.Overrides))
	for _, e := range parsed.Overrides {
		if e.EIN == "" || e.ProfileURL == "" {
			continue
		}
		entries[e.EIN] = directory.Provider{
			Name:       e.ProviderName,
			ProfileURL: e.ProfileURL,
			Town:       e.Town,
		}
	}
	o.entries.Store(&entries)
	slog.Info("match overrides loaded", "path", o.path, "pins", len(entries))
	return nil
}

func (o *Overrides) watch() {
	for {
		select {
		case <-o.done:
			return
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(o.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := o.reload(); err != nil {
				slog.Warn("overrides reload failed, keeping previous pins",
					"path", o.path, "error", err)
			}
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("overrides watcher error", "error", err)
		}
	}
}
