package download

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/codefionn/greyhound/internal/compress"
	"github.com/codefionn/greyhound/internal/reader"
	"github.com/codefionn/greyhound/internal/schema"
)

// ManifestFile is the name of the manifest written next to the regions.
const ManifestFile = "manifest.json"

var ErrDigestMismatch = errors.New("download: region digest mismatch")

// Manifest describes a downloaded session.
type Manifest struct {
	Session    string        `json:"session"`
	Schema     schema.Schema `json:"schema"`
	DepthBegin int           `json:"depthBegin,omitempty"`
	DepthEnd   int           `json:"depthEnd,omitempty"`
	Regions    []RegionEntry `json:"regions"`
}

// RegionEntry describes one stored region.
type RegionEntry struct {
	Index       int          `json:"index"`
	Mins        [3]float64   `json:"mins"`
	Maxs        [3]float64   `json:"maxs"`
	File        string       `json:"file"`
	Points      int64        `json:"points"`
	Bytes       int64        `json:"bytes"`
	Stored      int64        `json:"stored"`
	Compression compress.Tag `json:"compression"`
	Digest      string       `json:"blake3"`
}

// DirSinkOptions configures a DirSink.
type DirSinkOptions struct {
	Session    string
	Schema     schema.Schema
	DepthBegin int
	DepthEnd   int
	// Compression applied to every region; ignored when Auto is set.
	Compression compress.Tag
	// Auto picks a codec per region by probing its payload.
	Auto bool
}

// DirSink writes region-NNNN.bin files and a manifest into a directory.
type DirSink struct {
	dir  string
	opts DirSinkOptions

	mu      sync.Mutex
	entries []RegionEntry
	closed  bool
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string, opts DirSinkOptions) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirSink{dir: dir, opts: opts}, nil
}

// Dir returns the output directory.
func (s *DirSink) Dir() string { return s.dir }

func (s *DirSink) Write(r Region, res *reader.ReadResult) error {
	tag := s.opts.Compression
	if s.opts.Auto {
		tag = compress.Select(res.Data)
	}
	stored, tag, err := compress.Auto(res.Data, tag)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("region-%04d.bin%s", r.Index, tag.Ext())
	if err := os.WriteFile(filepath.Join(s.dir, name), stored, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	entry := RegionEntry{
		Index:       r.Index,
		Mins:        r.Box.Mins(),
		Maxs:        r.Box.Maxs(),
		File:        name,
		Points:      res.NumPoints,
		Bytes:       int64(len(res.Data)),
		Stored:      int64(len(stored)),
		Compression: tag,
		Digest:      digest(res.Data),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("download: sink closed")
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Close writes the manifest. Further writes fail.
func (s *DirSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := append([]RegionEntry(nil), s.entries...)
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	m := Manifest{
		Session:    s.opts.Session,
		Schema:     s.opts.Schema,
		DepthBegin: s.opts.DepthBegin,
		DepthEnd:   s.opts.DepthEnd,
		Regions:    entries,
	}
	if m.Regions == nil {
		m.Regions = []RegionEntry{}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, ManifestFile), data, 0o644)
}

// LoadManifest reads the manifest of a download directory.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// ReadRegion loads, decompresses and verifies a stored region.
func ReadRegion(dir string, e RegionEntry) ([]byte, error) {
	stored, err := os.ReadFile(filepath.Join(dir, e.File))
	if err != nil {
		return nil, err
	}
	data, err := compress.Decompress(stored, e.Compression, int(e.Bytes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.File, err)
	}
	if got := digest(data); got != e.Digest {
		return nil, fmt.Errorf("%w: %s has %s, manifest says %s", ErrDigestMismatch, e.File, got, e.Digest)
	}
	return data, nil
}

func digest(data []byte) string {
	h := blake3.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
