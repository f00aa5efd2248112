package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CacheProgress remembers, per market cache directory, which symbols the
// upstream had no bars for (.tried-empty) and the date of the last cache
// run that finished without failures (.last-completed). Both survive a
// crash so a rerun can skip work already known to be pointless.
type CacheProgress struct {
	mu         sync.Mutex
	triedEmpty map[string]struct{}
	writer     *bufio.Writer
	file       *os.File
	dir        string
}

// OpenCacheProgress opens the progress files under the ParquetStore's
// daily directory, creating it if needed.
func OpenCacheProgress(ps *ParquetStore) (*CacheProgress, error) {
	dir := filepath.Join(ps.DataDir, string(ps.Market), "daily")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating daily dir: %w", err)
	}

	p := &CacheProgress{
		triedEmpty: make(map[string]struct{}),
		dir:        dir,
	}
	if data, err := os.ReadFile(p.path(".tried-empty")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				p.triedEmpty[sym] = struct{}{}
			}
		}
	}
	if err := p.openAppend(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CacheProgress) path(name string) string { return filepath.Join(p.dir, name) }

func (p *CacheProgress) openAppend() error {
	f, err := os.OpenFile(p.path(".tried-empty"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening .tried-empty: %w", err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsTriedEmpty reports whether symbol was already fetched with no result.
func (p *CacheProgress) IsTriedEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.triedEmpty[symbol]
	return ok
}

// MarkEmpty records symbols as tried-empty.
func (p *CacheProgress) MarkEmpty(symbols ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := p.triedEmpty[sym]; ok {
			continue
		}
		p.triedEmpty[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing .tried-empty: %w", err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted records date (YYYY-MM-DD) as the last completed run.
func (p *CacheProgress) MarkCompleted(date string) error {
	return os.WriteFile(p.path(".last-completed"), []byte(date), 0o644)
}

// LastCompleted returns the last completed date, or "".
func (p *CacheProgress) LastCompleted() string {
	data, err := os.ReadFile(p.path(".last-completed"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset forgets every tried-empty symbol.
func (p *CacheProgress) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file != nil {
		p.file.Close()
	}
	p.triedEmpty = make(map[string]struct{})
	if err := os.Remove(p.path(".tried-empty")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing .tried-empty: %w", err)
	}
	return p.openAppend()
}

// Close flushes and closes the .tried-empty file.
func (p *CacheProgress) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
