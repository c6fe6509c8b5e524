package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"transcendence/pong/internal/logging"
)

// RetentionPolicy defines how many replay bundles are retained on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted replays.
type StorageStats struct {
	Matches   int
	Sealed    int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes replay bundles according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	inUse  func(path string) bool
	stats  StorageStats
}

// CleanerOption customises a Cleaner.
type CleanerOption func(*Cleaner)

// WithCleanerClock overrides the time source used for age checks.
func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInUse skips bundles that are still being written.
func WithInUse(inUse func(path string) bool) CleanerOption {
	return func(c *Cleaner) {
		c.inUse = inUse
	}
}

// NewCleaner constructs a cleaner for the provided replay directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger, opts ...CleanerOption) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	c := &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundle struct {
	name    string
	path    string
	size    int64
	sealed  bool
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	bundles := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		active := c.inUse != nil && c.inUse(b.path)
		if remove, reasons := c.shouldRemove(b, now, kept); remove && !active {
			err := os.RemoveAll(b.path)
			if err == nil {
				c.log.Info("replay retention removed bundle", logging.String("match", b.name), logging.String("reason", reasons))
				continue
			}
			c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("match", b.name))
		}
		kept++
		stats.Matches++
		stats.Bytes += b.size
		if b.sealed {
			stats.Sealed++
		}
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []*bundle {
	list := make([]*bundle, 0, len(entries))
	for _, entry := range entries {
		//1.- Every bundle is a directory; stray files are not ours to prune.
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		b := &bundle{name: entry.Name(), path: path, modTime: info.ModTime()}
		if err := c.measure(b); err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		list = append(list, b)
	}
	//2.- Newest first so the match limit favours recent games.
	sort.Slice(list, func(i, j int) bool { return list[i].modTime.After(list[j].modTime) })
	return list
}

func (c *Cleaner) measure(b *bundle) error {
	return filepath.WalkDir(b.path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		b.size += info.Size()
		if info.ModTime().After(b.modTime) {
			b.modTime = info.ModTime()
		}
		if d.Name() == HeaderFile {
			b.sealed = true
		}
		return nil
	})
}

func (c *Cleaner) shouldRemove(b *bundle, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxMatches > 0 && kept >= c.policy.MaxMatches {
		reasons = append(reasons, fmt.Sprintf(">=%d matches", c.policy.MaxMatches))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}
