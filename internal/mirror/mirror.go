package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/gtaskfs/internal/docfs"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
)

// Documents is the part of docfs.Provider the mirror drives.
type Documents interface {
	Read(ctx context.Context, address string) ([]byte, error)
	Write(ctx context.Context, address string, content []byte) error
	OnDidChange(listener docfs.Listener) (dispose func())
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Root string
	// Debounce coalesces bursts of saves from editors that write in
	// several steps.
	Debounce time.Duration
	// PollInterval re-reads tracked documents that have no local edits.
	// Zero disables polling.
	PollInterval time.Duration
	PollJitter   float64
	Timeout      time.Duration
	Logger       Logger
}

// Mirror keeps local copies of documents under Root and submits saved
// edits back through Documents.
type Mirror struct {
	docs         Documents
	root         string
	debounce     time.Duration
	pollInterval time.Duration
	pollJitter   float64
	timeout      time.Duration
	logger       Logger

	mu      sync.Mutex
	tracked map[string]*trackedDoc
	byPath  map[string]string
	watcher *fsnotify.Watcher
	dispose func()
}

type trackedDoc struct {
	address string
	path    string
	hash    string
	pushing bool
	lastErr error
}

func New(docs Documents, opts Options) (*Mirror, error) {
	if docs == nil {
		return nil, fmt.Errorf("documents are required")
	}
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, fmt.Errorf("mirror root is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m := &Mirror{
		docs:         docs,
		root:         root,
		debounce:     debounce,
		pollInterval: opts.PollInterval,
		pollJitter:   clampJitterRatio(opts.PollJitter),
		timeout:      timeout,
		logger:       opts.Logger,
		tracked:      map[string]*trackedDoc{},
		byPath:       map[string]string{},
	}
	m.dispose = docs.OnDidChange(m.handleChanges)
	return m, nil
}

// LocalPath maps an address to <root>/<list>/<task>.json using the same
// escaping as the address itself.
func (m *Mirror) LocalPath(address string) (string, error) {
	addr, err := taskdoc.Decode(address)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.root, filepath.FromSlash(strings.TrimPrefix(addr.Path(), "/"))), nil
}

// Track materializes address locally and starts following it.
func (m *Mirror) Track(ctx context.Context, address string) (string, error) {
	path, err := m.LocalPath(address)
	if err != nil {
		return "", err
	}
	address = addressFromPath(address)
	m.mu.Lock()
	if _, ok := m.tracked[address]; !ok {
		m.tracked[address] = &trackedDoc{address: address, path: path}
		m.byPath[path] = address
	}
	watcher := m.watcher
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if watcher != nil {
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			return "", err
		}
	}
	if err := m.Pull(ctx, address); err != nil {
		return "", err
	}
	return path, nil
}

// Pull replaces the local copy with the current document unless the local
// copy holds edits that were never submitted.
func (m *Mirror) Pull(ctx context.Context, address string) error {
	doc, ok := m.lookup(address)
	if !ok {
		return fmt.Errorf("document %s is not tracked", address)
	}
	content, err := m.docs.Read(ctx, doc.address)
	if err != nil {
		return err
	}
	content = withTrailingNewline(content)

	m.mu.Lock()
	defer m.mu.Unlock()
	local, readErr := os.ReadFile(doc.path)
	switch {
	case readErr == nil:
		if doc.hash != "" && hashBytes(local) != doc.hash {
			m.logf("mirror: keeping local edits in %s", doc.path)
			return nil
		}
		if hashBytes(local) == hashBytes(content) {
			doc.hash = hashBytes(content)
			return nil
		}
	case !errors.Is(readErr, os.ErrNotExist):
		return readErr
	}
	if err := writeFileAtomic(doc.path, content, 0o644); err != nil {
		return err
	}
	doc.hash = hashBytes(content)
	return nil
}

// Push submits the local copy when it differs from what was last synced.
// A failed submission leaves the local file untouched.
func (m *Mirror) Push(ctx context.Context, address string) error {
	doc, ok := m.lookup(address)
	if !ok {
		return fmt.Errorf("document %s is not tracked", address)
	}
	content, err := os.ReadFile(doc.path)
	if err != nil {
		return err
	}
	hash := hashBytes(content)
	m.mu.Lock()
	if hash == doc.hash || doc.pushing {
		m.mu.Unlock()
		return nil
	}
	doc.pushing = true
	m.mu.Unlock()

	err = m.docs.Write(ctx, doc.address, content)
	m.mu.Lock()
	doc.pushing = false
	doc.lastErr = err
	if err == nil {
		doc.hash = hash
	}
	m.mu.Unlock()
	if err != nil {
		m.logf("mirror: save of %s rejected: %v", doc.path, err)
		return err
	}
	return m.Pull(ctx, doc.address)
}

// LastError returns the error of the most recent failed save of address.
func (m *Mirror) LastError(address string) error {
	doc, ok := m.lookup(address)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return doc.lastErr
}

// Run watches tracked files until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	m.mu.Lock()
	m.watcher = watcher
	dirs := map[string]struct{}{}
	for _, doc := range m.tracked {
		dirs[filepath.Dir(doc.path)] = struct{}{}
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.watcher = nil
		m.mu.Unlock()
	}()
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	pending := map[string]struct{}{}
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	var poll <-chan time.Time
	var pollTimer *time.Timer
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if m.pollInterval > 0 {
		pollTimer = time.NewTimer(jitteredIntervalWithSample(m.pollInterval, m.pollJitter, rng.Float64()))
		defer pollTimer.Stop()
		poll = pollTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			address, tracked := m.addressForPath(filepath.Clean(event.Name))
			if !tracked {
				continue
			}
			pending[address] = struct{}{}
			debounce.Reset(m.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logf("mirror: watch error: %v", err)
		case <-debounce.C:
			for address := range pending {
				delete(pending, address)
				m.withTimeout(ctx, func(opCtx context.Context) error { return m.Push(opCtx, address) })
			}
		case <-poll:
			for _, address := range m.addresses() {
				m.withTimeout(ctx, func(opCtx context.Context) error { return m.Pull(opCtx, address) })
			}
			pollTimer.Reset(jitteredIntervalWithSample(m.pollInterval, m.pollJitter, rng.Float64()))
		}
	}
}

func (m *Mirror) Close() {
	if m.dispose != nil {
		m.dispose()
	}
}

// handleChanges re-pulls documents changed by writes made elsewhere.
func (m *Mirror) handleChanges(events []docfs.ChangeEvent) {
	for _, event := range events {
		address := addressFromPath(event.Address)
		doc, ok := m.lookup(address)
		if !ok {
			continue
		}
		m.mu.Lock()
		pushing := doc.pushing
		m.mu.Unlock()
		if pushing {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := m.Pull(ctx, address); err != nil {
			m.logf("mirror: refresh of %s failed: %v", address, err)
		}
		cancel()
	}
}

func (m *Mirror) withTimeout(parent context.Context, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, m.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.logf("mirror: %v", err)
	}
}

func (m *Mirror) lookup(address string) (*trackedDoc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.tracked[addressFromPath(address)]
	return doc, ok
}

func (m *Mirror) addressForPath(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	address, ok := m.byPath[path]
	return address, ok
}

func (m *Mirror) addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tracked))
	for address := range m.tracked {
		out = append(out, address)
	}
	return out
}

func (m *Mirror) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}

// addressFromPath canonicalizes bare paths and full addresses to the full
// form so both key the same document.
func addressFromPath(address string) string {
	addr, err := taskdoc.Decode(address)
	if err != nil {
		return address
	}
	return addr.String()
}

func withTrailingNewline(content []byte) []byte {
	if len(content) > 0 && content[len(content)-1] == '\n' {
		return content
	}
	out := make([]byte, len(content)+1)
	copy(out, content)
	out[len(content)] = '\n'
	return out
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
