package httpapi

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SecretStore serves the source HMAC secret and the admin bearer secret from
// files and reloads them when the files change, so secrets rotate without a
// restart. Kubernetes-style symlink swaps show up as create/rename events on
// the watched directory, which is why the directory is watched rather than
// the file itself.
type SecretStore struct {
	sourcePath string
	bearerPath string

	mu     sync.RWMutex
	source string
	bearer string
}

func LoadSecretFiles(sourcePath, bearerPath string) (*SecretStore, error) {
	s := &SecretStore{
		sourcePath: strings.TrimSpace(sourcePath),
		bearerPath: strings.TrimSpace(bearerPath),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SecretStore) SourceSecret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *SecretStore) BearerSecret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bearer
}

func (s *SecretStore) reload() error {
	source, err := readSecretFile(s.sourcePath)
	if err != nil {
		return err
	}
	bearer, err := readSecretFile(s.bearerPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if source != "" {
		s.source = source
	}
	if bearer != "" {
		s.bearer = bearer
	}
	s.mu.Unlock()
	return nil
}

// Watch reloads the secrets on file changes until ctx is cancelled.
func (s *SecretStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := map[string]struct{}{}
	for _, path := range []string{s.sourcePath, s.bearerPath} {
		if path == "" {
			continue
		}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return err
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !s.watchesFile(event.Name) {
					continue
				}
				if err := s.reload(); err != nil {
					log.Printf("httpapi: reloading secrets after %s: %v", event.Name, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("httpapi: secret watcher: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *SecretStore) watchesFile(name string) bool {
	name = filepath.Clean(name)
	for _, path := range []string{s.sourcePath, s.bearerPath} {
		if path == "" {
			continue
		}
		if filepath.Clean(path) == name || filepath.Dir(path) == name {
			return true
		}
	}
	return false
}

func readSecretFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
