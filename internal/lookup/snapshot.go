package lookup

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/browser"
)

// Snapshot kinds.
const (
	SnapshotTimeout = "timeout"
	SnapshotDetail  = "detail"
)

// Snapshotter writes page sources for failed lookups so selectors can be
// fixed after the fact. A Snapshotter with an empty Dir does nothing.
type Snapshotter struct {
	Dir string
	log *zap.Logger
}

// NewSnapshotter returns a Snapshotter writing under dir.
func NewSnapshotter(dir string, log *zap.Logger) *Snapshotter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Snapshotter{Dir: dir, log: log}
}

// Capture dumps the current page to <Dir>/<kind>-<id>.html and returns the
// path written, or "" when disabled or on failure. Failures are logged only.
func (s *Snapshotter) Capture(ctx context.Context, drv browser.Driver, kind, id string) string {
	if s == nil || s.Dir == "" {
		return ""
	}
	src, err := drv.DumpSource(ctx)
	if err != nil {
		s.log.Warn("lookup: snapshot source unavailable", zap.String("kind", kind), zap.Error(err))
		return ""
	}
	return s.Save(kind, id, src)
}

// Save writes an already captured page source. It behaves like Capture.
func (s *Snapshotter) Save(kind, id, src string) string {
	if s == nil || s.Dir == "" {
		return ""
	}
	path, err := s.write(kind, id, src)
	if err != nil {
		s.log.Warn("lookup: snapshot write failed", zap.String("kind", kind), zap.Error(err))
		return ""
	}
	s.log.Debug("lookup: snapshot written", zap.String("path", path))
	return path
}

func (s *Snapshotter) write(kind, id, src string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", eris.Wrap(err, "lookup: create diagnostics dir")
	}
	path := filepath.Join(s.Dir, kind+"-"+safeName(id)+".html")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return "", eris.Wrapf(err, "lookup: write %s", path)
	}
	return path, nil
}

// safeName keeps ids usable as file names.
func safeName(id string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			return r
		}
		return '_'
	}, strings.TrimSpace(id))
	if name == "" {
		return "unknown"
	}
	return name
}
