package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// SignificancePolicy decides which analytics event types warrant an alert to
// the admin room. The set is injectable configuration, not a constant: it can
// be replaced at runtime and optionally hot-reloaded from a JSON file.
type SignificancePolicy struct {
	mu     sync.RWMutex
	events map[string]struct{}
	fs     afero.Fs
}

// significanceFile is the on-disk shape of a policy file.
type significanceFile struct {
	SignificantEvents []string `json:"significant_events"`
}

// NewSignificancePolicy creates a policy covering the given event types.
func NewSignificancePolicy(eventTypes ...string) *SignificancePolicy {
	p := &SignificancePolicy{
		events: make(map[string]struct{}, len(eventTypes)),
		fs:     afero.NewOsFs(),
	}
	for _, e := range eventTypes {
		p.events[e] = struct{}{}
	}
	return p
}

// WithFs swaps the filesystem used by LoadFile. Tests use an in-memory fs.
func (p *SignificancePolicy) WithFs(fs afero.Fs) *SignificancePolicy {
	p.fs = fs
	return p
}

// IsSignificant reports whether the event type triggers an admin alert.
func (p *SignificancePolicy) IsSignificant(eventType string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.events[eventType]
	return ok
}

// Replace swaps the entire event set.
func (p *SignificancePolicy) Replace(eventTypes []string) {
	events := make(map[string]struct{}, len(eventTypes))
	for _, e := range eventTypes {
		events[e] = struct{}{}
	}

	p.mu.Lock()
	p.events = events
	p.mu.Unlock()
}

// EventTypes returns a copy of the current event set.
func (p *SignificancePolicy) EventTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.events))
	for e := range p.events {
		out = append(out, e)
	}
	return out
}

// LoadFile replaces the event set from a JSON policy file.
func (p *SignificancePolicy) LoadFile(path string) error {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return fmt.Errorf("read significance policy: %w", err)
	}

	var file significanceFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse significance policy %s: %w", path, err)
	}

	p.Replace(file.SignificantEvents)
	slog.Info("Significance policy loaded", "path", path, "events", len(file.SignificantEvents))
	return nil
}

// Watch reloads the policy file whenever it changes on disk, until the
// context is canceled. A reload failure keeps the previous set and logs.
func (p *SignificancePolicy) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch significance policy: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch significance policy %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if err := p.LoadFile(path); err != nil {
						slog.Error("Failed to reload significance policy", "path", path, "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Significance policy watcher error", "path", path, "error", err)
			}
		}
	}()

	return nil
}
