package creds

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// LoadFile parses a credentials file: one "identity secret" pair per
// line, blank lines and lines starting with "#" ignored.
func LoadFile(path string) ([]Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credentials file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var creds []Credential
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("credentials file %s: malformed line %q", path, line)
		}
		creds = append(creds, Credential{Identity: fields[0], Secret: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read credentials file %s: %w", path, err)
	}
	return creds, nil
}

// WatchFile watches path for writes and calls p.Reload with the
// refreshed contents on every change, until ctx is cancelled. Reload
// failures (e.g. a momentarily-truncated file mid-write) are logged and
// ignored — the pool keeps its last-good credential list rather than
// going empty.
func WatchFile(ctx context.Context, path string, p *Pool, log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credentials watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch credentials file %s: %w", path, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				creds, err := LoadFile(path)
				if err != nil {
					log.Warn("credentials reload failed, keeping previous pool", "path", path, "error", err)
					continue
				}
				if err := p.Reload(creds); err != nil {
					log.Warn("credentials reload rejected", "path", path, "error", err)
					continue
				}
				log.Info("credentials pool reloaded", "path", path, "count", len(creds))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("credentials watcher error", "error", err)
			}
		}
	}()

	return nil
}
