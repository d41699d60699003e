// Package source loads STIX documents from files, streams and buffers.
package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"ctitoolkit/metrics"
	"ctitoolkit/stix"
	"ctitoolkit/util"
)

// ErrNilReader is returned when a StreamItem has no reader to consume.
var ErrNilReader = errors.New("stream item has no reader")

// Item is anything a STIX document can be read from.
type Item interface {
	Open() (io.ReadCloser, error)
	FileName() string
}

// FileItem reads a document from disk.
type FileItem struct {
	Path string
}

func (f FileItem) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// FileName returns the base name of the path.
func (f FileItem) FileName() string {
	return filepath.Base(f.Path)
}

// BufferItem serves a document held in memory.
type BufferItem struct {
	Name string
	Data []byte
}

func (b BufferItem) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

func (b BufferItem) FileName() string {
	return b.Name
}

// StreamItem wraps a one-shot reader such as stdin. The stream is drained
// on first Open so the document can be opened again.
type StreamItem struct {
	Name   string
	Reader io.Reader

	once sync.Once
	data []byte
	err  error
}

func (s *StreamItem) Open() (io.ReadCloser, error) {
	s.once.Do(func() {
		if s.Reader == nil {
			s.err = ErrNilReader
			return
		}
		s.data, s.err = io.ReadAll(s.Reader)
	})
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *StreamItem) FileName() string {
	return s.Name
}

// SourceItem is the result of loading an Item. Package is nil when the
// document could not be parsed.
type SourceItem struct {
	Package      *stix.Package
	Outcome      stix.Outcome
	Err          error
	UpgradedFrom string // source STIX version when Outcome is OutcomeUpgraded

	item   Item
	raw    []byte
	logger *zap.SugaredLogger
}

// FileName returns the name the item is displayed and saved under.
func (s *SourceItem) FileName() string {
	return s.item.FileName()
}

// Digest returns the hex SHA-256 of the document as read.
func (s *SourceItem) Digest() string {
	sum := sha256.Sum256(s.raw)
	return hex.EncodeToString(sum[:])
}

// SourceVersion returns the STIX version of the document as it was read.
func (s *SourceItem) SourceVersion() string {
	if s.UpgradedFrom != "" {
		return s.UpgradedFrom
	}
	if s.Package != nil {
		return s.Package.Version
	}
	return ""
}

// Load reads and parses an item. A package of an older STIX version is
// upgraded and parsed once more. Failures are logged against the item's
// file name and leave Package nil. A nil logger discards them.
func Load(item Item, logger *zap.SugaredLogger) *SourceItem {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &SourceItem{item: item, logger: logger}
	s.load()
	metrics.RecordSourceLoaded(string(s.Outcome))
	return s
}

func (s *SourceItem) load() {
	item, logger := s.item, s.logger

	raw, err := readAll(item)
	if err != nil {
		s.fail(err)
		return
	}
	s.raw = raw

	pkg, err := stix.ParseBytes(raw)
	if err == nil {
		s.Package = pkg
		s.Outcome = stix.OutcomeParsed
		return
	}

	var uv *stix.UnsupportedVersionError
	if !errors.As(err, &uv) {
		s.fail(err)
		return
	}

	logger.Infof("%s: upgrading STIX %s package to %s", item.FileName(), uv.Version, stix.LatestVersion)
	upgraded, err := stix.Upgrade(raw, stix.LatestVersion)
	var parseErr *stix.ParseError
	if errors.As(err, &parseErr) {
		s.fail(err)
		return
	}
	if err != nil {
		s.Outcome = stix.OutcomeUnsupported
		s.Err = err
		logger.Errorf("%s: %v", item.FileName(), err)
		return
	}

	pkg, err = stix.Parse(upgraded.Document())
	if err != nil {
		s.fail(err)
		return
	}
	s.Package = pkg
	s.Outcome = stix.OutcomeUpgraded
	s.UpgradedFrom = upgraded.From
}

func readAll(item Item) ([]byte, error) {
	rc, err := item.Open()
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	return raw, nil
}

func (s *SourceItem) fail(err error) {
	s.Outcome = stix.OutcomeFailed
	s.Err = err
	s.logger.Errorf("%s: %v", s.item.FileName(), err)
}

// Save writes the package document to dir under FileName. Nothing is
// written for an item without a package. Failures are logged, not returned.
func (s *SourceItem) Save(dir string) {
	if s.Package == nil {
		return
	}

	path, err := util.OutputPath(dir, s.FileName())
	if err != nil {
		metrics.RecordSaveFailure()
		s.logger.Errorf("%s: cannot save to %s: %v", s.FileName(), dir, err)
		return
	}

	if err := os.WriteFile(path, s.Package.XML(), 0o644); err != nil {
		metrics.RecordSaveFailure()
		s.logger.Errorf("%s: %v", s.FileName(), err)
		return
	}
	s.logger.Debugf("%s: saved to %s", s.FileName(), path)
}
