package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/logging"
)

// stateDir holds config, outputs and the run catalog; it is never crawled.
const stateDir = ".geoindexer"

// compiledPattern holds both the pattern string and compiled glob
type compiledPattern struct {
	pattern string
	glob    glob.Glob
	// rooted is the pattern without a leading "**/", so "**/x/**" also
	// matches "x/..." directly under the root.
	rooted glob.Glob
}

// FileDiscovery walks the search root and returns the candidate paths
// whose extension the classifier recognizes.
type FileDiscovery struct {
	rootDir        string
	classifier     *Classifier
	ignorePatterns []compiledPattern
	followSymlinks bool
	logger         *zap.SugaredLogger
}

// NewFileDiscovery creates a new file discovery instance.
func NewFileDiscovery(rootDir string, classifier *Classifier, ignorePatterns []string, followSymlinks bool, logger *zap.SugaredLogger) (*FileDiscovery, error) {
	fd := &FileDiscovery{
		rootDir:        rootDir,
		classifier:     classifier,
		followSymlinks: followSymlinks,
		logger:         logging.OrNop(logger),
	}

	for _, pattern := range ignorePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "invalid ignore pattern %q", pattern)
		}
		cp := compiledPattern{pattern: pattern, glob: g}
		if simplified, ok := strings.CutPrefix(pattern, "**/"); ok {
			if cp.rooted, err = glob.Compile(simplified, '/'); err != nil {
				return nil, errors.Wrapf(err, "invalid ignore pattern %q", pattern)
			}
		}
		fd.ignorePatterns = append(fd.ignorePatterns, cp)
	}

	return fd, nil
}

// Discover returns an ordered, deduplicated list of candidate paths. Only
// an unreadable root is an error; unreadable subdirectories are logged
// and skipped.
func (fd *FileDiscovery) Discover(ctx context.Context) ([]string, error) {
	info, err := os.Stat(fd.rootDir)
	if err != nil {
		return nil, &RootError{Root: fd.rootDir, Err: errors.Wrap(err, "stat")}
	}
	if !info.IsDir() {
		return nil, &RootError{Root: fd.rootDir, Err: errors.New("not a directory")}
	}

	w := &walk{visited: make(map[string]bool), seen: make(map[string]bool)}
	if err := fd.walkDir(ctx, fd.rootDir, w); err != nil {
		return nil, err
	}

	sort.Strings(w.paths)
	return w.paths, nil
}

type walk struct {
	// visited holds resolved directories, guarding against symlink cycles.
	visited map[string]bool
	// seen holds resolved candidate paths.
	seen  map[string]bool
	paths []string
}

func (w *walk) add(path string) {
	key := path
	if real, err := filepath.EvalSymlinks(path); err == nil {
		key = real
	}
	if w.seen[key] {
		return
	}
	w.seen[key] = true
	w.paths = append(w.paths, path)
}

func (fd *FileDiscovery) walkDir(ctx context.Context, dir string, w *walk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if real, err := filepath.EvalSymlinks(dir); err == nil {
		if w.visited[real] {
			return nil
		}
		w.visited[real] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if dir == fd.rootDir {
			return &RootError{Root: dir, Err: errors.Wrap(err, "read")}
		}
		fd.logger.Warnw("Skipping unreadable directory", logging.FieldPath, dir, logging.FieldError, err)
		return nil
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if fd.shouldIgnore(fd.relPath(path)) {
			continue
		}

		isDir := e.IsDir()
		mode := e.Type()
		if mode&fs.ModeSymlink != 0 {
			if !fd.followSymlinks {
				continue
			}
			target, err := os.Stat(path)
			if err != nil {
				fd.logger.Debugw("Skipping broken symlink", logging.FieldPath, path, logging.FieldError, err)
				continue
			}
			isDir = target.IsDir()
			mode = target.Mode().Type()
		}

		switch {
		case isDir && fd.classifier.IsContainer(path):
			w.add(path)
		case isDir:
			if err := fd.walkDir(ctx, path, w); err != nil {
				return err
			}
		case mode.IsRegular():
			if _, ok := fd.classifier.Classify(path); ok {
				w.add(path)
			}
		}
	}
	return nil
}

func (fd *FileDiscovery) relPath(path string) string {
	rel, err := filepath.Rel(fd.rootDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// shouldIgnore checks if a path matches any ignore pattern.
func (fd *FileDiscovery) shouldIgnore(relPath string) bool {
	if strings.HasPrefix(relPath, stateDir+"/") || relPath == stateDir {
		return true
	}

	if fd.matchesAnyPattern(relPath, fd.ignorePatterns) {
		return true
	}

	// A directory matches its "dir/**" pattern too, so the whole subtree
	// is pruned instead of being walked file by file.
	return fd.matchesAnyPattern(relPath+"/**", fd.ignorePatterns)
}

// matchesAnyPattern checks if a path matches any of the given patterns.
func (fd *FileDiscovery) matchesAnyPattern(path string, patterns []compiledPattern) bool {
	for _, cp := range patterns {
		if cp.glob.Match(path) {
			return true
		}
		if cp.rooted != nil && cp.rooted.Match(path) {
			return true
		}
	}
	return false
}
