package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/vvanghelue/surfpack/internal/vfs"
)

// DefaultIgnore are skipped in every project
var DefaultIgnore = []string{
	".git/**",
	"node_modules/**",
	"dist/**",
	"build/**",
	".surfpack.*",
	"**/.DS_Store",
}

// DefaultMaxFileSize skips files larger than 2 MiB
const DefaultMaxFileSize = 2 << 20

var (
	ErrNotDirectory = errors.New("project root is not a directory")
	ErrInvalidGlob  = errors.New("invalid ignore pattern")
)

// SkipReason explains why a file was left out
type SkipReason string

const (
	SkipBinary   SkipReason = "binary"
	SkipTooLarge SkipReason = "too-large"
	SkipEncoding SkipReason = "encoding"
	SkipUnread   SkipReason = "unreadable"
)

// Skipped is a file left out of the project
type Skipped struct {
	Path   string     `json:"path"`
	Reason SkipReason `json:"reason"`
}

// Project is a loaded directory
type Project struct {
	Root         string
	Files        []vfs.SourceFile
	Settings     Settings
	SettingsPath string
	Skipped      []Skipped
}

// Options configures Load
type Options struct {
	// Ignore globs are added to DefaultIgnore and the settings file globs
	Ignore      []string
	MaxFileSize int64
	Logger      *zap.Logger
}

// Load reads every text file under root
func Load(ctx context.Context, root string, opts Options) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	settings, settingsPath, err := ReadSettings(abs)
	if err != nil {
		return nil, err
	}
	ignore, err := compileIgnore(DefaultIgnore, settings.Ignore, opts.Ignore)
	if err != nil {
		return nil, err
	}

	p := &Project{Root: abs, Settings: settings, SettingsPath: settingsPath}
	var mu sync.Mutex

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, abs, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if path == abs {
			return nil
		}

		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if ignore.matchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || ignore.match(rel) {
			return nil
		}

		file, reason := readText(path, rel, maxSize)
		mu.Lock()
		defer mu.Unlock()
		if reason != "" {
			p.Skipped = append(p.Skipped, Skipped{Path: rel, Reason: reason})
			logger.Debug("Skipped project file", zap.String("path", rel), zap.String("reason", string(reason)))
			return nil
		}
		p.Files = append(p.Files, file)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	slices.SortFunc(p.Files, func(a, b vfs.SourceFile) int { return strings.Compare(a.Path, b.Path) })
	slices.SortFunc(p.Skipped, func(a, b Skipped) int { return strings.Compare(a.Path, b.Path) })
	p.Files = vfs.Sanitize(p.Files)
	logger.Info("Project loaded",
		zap.String("root", abs),
		zap.Int("files", len(p.Files)),
		zap.Int("skipped", len(p.Skipped)))
	return p, nil
}

// ============================================================================
// Ignore globs
// ============================================================================

type ignoreSet []string

func compileIgnore(groups ...[]string) (ignoreSet, error) {
	var set ignoreSet
	for _, group := range groups {
		for _, pattern := range group {
			pattern = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(pattern)), "./")
			if pattern == "" {
				continue
			}
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("%w: %q", ErrInvalidGlob, pattern)
			}
			set = append(set, pattern)
		}
	}
	return set, nil
}

func (s ignoreSet) match(rel string) bool {
	for _, pattern := range s {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// matchDir reports whether everything below dir is ignored
func (s ignoreSet) matchDir(dir string) bool {
	return s.match(dir) || s.match(dir+"/")
}

// ============================================================================
// Text decoding
// ============================================================================

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readText(path, rel string, maxSize int64) (vfs.SourceFile, SkipReason) {
	info, err := os.Stat(path)
	if err != nil {
		return vfs.SourceFile{}, SkipUnread
	}
	if info.Size() > maxSize {
		return vfs.SourceFile{}, SkipTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return vfs.SourceFile{}, SkipUnread
	}
	if !IsText(data) {
		return vfs.SourceFile{}, SkipBinary
	}
	text, err := DecodeText(data)
	if err != nil {
		return vfs.SourceFile{}, SkipEncoding
	}
	return vfs.SourceFile{Path: rel, Content: text}, ""
}

// IsText reports whether data looks like text
func IsText(data []byte) bool {
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}

// DecodeText returns data as UTF-8, transcoding from the detected charset
// when data is not valid UTF-8
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}

	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "", fmt.Errorf("detect charset: %w", err)
	}
	enc, err := htmlindex.Get(strings.ToLower(result.Charset))
	if err != nil {
		return "", fmt.Errorf("unsupported charset %s: %w", result.Charset, err)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", result.Charset, err)
	}
	return string(out), nil
}
