package policy

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const protectedCacheTTL = 30 * time.Second

// protectedBasenames are exact basenames that are always protected,
// regardless of directory.
var protectedBasenames = map[string]bool{
	"ralph.config.json": true,
	".env":              true,
}

// protectedBasenamePrefixes are basename prefixes that are always
// protected (e.g. .env.local, .env.production).
var protectedBasenamePrefixes = []string{".env."}

// protectedGlobs are glob patterns matched against the normalized absolute
// path.
var protectedGlobs = []string{"**/.ralph/config.json"}

type inodeKey struct {
	device uint64
	inode  uint64
}

// ProtectedFiles caches the (device, inode) identity of every file on disk
// that matches a protected basename/glob rule, so subsequent checks can
// catch a path that has been symlinked or bind-mounted to point at a
// protected file under a name that wouldn't match the rules textually.
// The cache refreshes lazily after protectedCacheTTL, and can be forced to
// refresh immediately (the batch executor does this once per batch).
type ProtectedFiles struct {
	mu        sync.Mutex
	inodes    map[inodeKey]struct{}
	lastStat  time.Time
	knownDirs map[string]struct{}
}

// NewProtectedFiles returns an empty cache. Callers register directories to
// watch via Watch; until then IsProtected falls back to pure textual
// matching against basenames/prefixes/globs.
func NewProtectedFiles() *ProtectedFiles {
	return &ProtectedFiles{
		inodes:    make(map[inodeKey]struct{}),
		knownDirs: make(map[string]struct{}),
	}
}

// Watch registers dir as a location to scan for protected files on refresh.
func (p *ProtectedFiles) Watch(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.knownDirs[dir] = struct{}{}
}

// ForceRefresh invalidates the cache's TTL so the next IsProtected call
// re-stats every watched directory's candidate files.
func (p *ProtectedFiles) ForceRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastStat = time.Time{}
}

// IsProtected reports whether path names, or resolves via device/inode to,
// a protected file.
func (p *ProtectedFiles) IsProtected(path string) bool {
	base := filepath.Base(path)
	if matchesProtectedName(base) || matchesProtectedGlob(path) {
		return true
	}

	key, ok := statInode(path)
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastStat) > protectedCacheTTL {
		p.refreshLocked()
	}
	_, protected := p.inodes[key]
	return protected
}

// refreshLocked re-stats every candidate protected file under the watched
// directories. Caller must hold p.mu.
func (p *ProtectedFiles) refreshLocked() {
	p.inodes = make(map[inodeKey]struct{})
	for dir := range p.knownDirs {
		for name := range protectedBasenames {
			if key, ok := statInode(filepath.Join(dir, name)); ok {
				p.inodes[key] = struct{}{}
			}
		}
		if key, ok := statInode(filepath.Join(dir, ".ralph", "config.json")); ok {
			p.inodes[key] = struct{}{}
		}
	}
	p.lastStat = time.Now()
}

func matchesProtectedName(base string) bool {
	if protectedBasenames[base] {
		return true
	}
	for _, prefix := range protectedBasenamePrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

func matchesProtectedGlob(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, pattern := range protectedGlobs {
		if globMatch(pattern, normalized) {
			return true
		}
	}
	return false
}

// globMatch implements the narrow "**/" leading-wildcard case the
// protected-file globs need: either the pattern matches the path's
// suffix after any "**/" prefix, or filepath.Match succeeds directly.
func globMatch(pattern, path string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasSuffix(path, "/"+suffix) || path == suffix {
			return true
		}
	}
	ok, _ := filepath.Match(pattern, path)
	return ok
}

func statInode(path string) (inodeKey, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return inodeKey{}, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeKey{}, false
	}
	return inodeKey{device: uint64(stat.Dev), inode: stat.Ino}, true
}
