// Package relay is the fallback file path: when peers cannot establish
// a direct connection, one side uploads here and the other streams the
// file back out. Files are ephemeral; metadata lives in memory only.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aniketmishra-0/SendIt/internal/logs"
	"github.com/aniketmishra-0/SendIt/internal/metrics"
	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"
)

const (
	ChunkSize       = 1 << 20 // streaming buffer; files are never held whole in memory
	MinCompressSize = 1024
	MaxFileSize     = 5 << 30

	FileTTL         = time.Hour
	JanitorInterval = 300 * time.Second
)

var (
	ErrNotFound = errors.New("file not found")
	ErrTooLarge = errors.New("file too large")
)

type FileMetadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	StoredSize   int64     `json:"storedSize"`
	OriginalSize int64     `json:"originalSize"`
	MimeType     string    `json:"mimeType"`
	Checksum     string    `json:"checksum"`
	Compressed   bool      `json:"compressed"`
	RoomCode     string    `json:"roomCode,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type Store struct {
	dir string
	log logs.Logger

	mu         sync.Mutex
	files      map[string]*FileMetadata
	totalBytes int64
}

func NewStore(dir string, log logs.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{
		dir:   dir,
		log:   log.Named("relay"),
		files: make(map[string]*FileMetadata),
	}, nil
}

func (s *Store) pathFor(id string, compressed bool) string {
	if compressed {
		return filepath.Join(s.dir, id+".lz4")
	}
	return filepath.Join(s.dir, id)
}

// Save streams src to disk, optionally through an LZ4 frame compressor,
// fingerprinting the plaintext as it passes. declaredSize is the
// client-declared length; it gates both the size cap and the
// compression decision, matching what the uploader promised rather
// than what arrives.
func (s *Store) Save(src io.Reader, name, mimeType, roomCode string, declaredSize int64, compress bool) (*FileMetadata, error) {
	if declaredSize > MaxFileSize {
		return nil, ErrTooLarge
	}

	id, err := newFileID()
	if err != nil {
		return nil, err
	}
	compressed := compress && declaredSize > MinCompressSize
	path := s.pathFor(id, compressed)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	hash := xxhash.New()
	var sink io.Writer = f
	var zw *lz4.Writer
	if compressed {
		zw = lz4.NewWriter(f)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level4)); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return nil, err
		}
		sink = zw
	}

	buf := make([]byte, ChunkSize)
	written, err := io.CopyBuffer(io.MultiWriter(hash, sink), src, buf)
	if err == nil && zw != nil {
		err = zw.Close() // flush the frame footer
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("store %s: %w", id, err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	now := time.Now()
	meta := &FileMetadata{
		ID:           id,
		Name:         name,
		StoredSize:   fi.Size(),
		OriginalSize: written,
		MimeType:     mimeType,
		Checksum:     fmt.Sprintf("%016x", hash.Sum64()),
		Compressed:   compressed,
		RoomCode:     roomCode,
		UploadedAt:   now,
		ExpiresAt:    now.Add(FileTTL),
	}

	s.mu.Lock()
	s.files[id] = meta
	s.totalBytes += written
	n := len(s.files)
	s.mu.Unlock()

	metrics.RelayUploads.Inc()
	metrics.RelayBytes.Add(float64(written))
	metrics.SetFiles(n)

	s.log.Info("file stored",
		logs.F("id", id), logs.F("name", name),
		logs.F("stored", meta.StoredSize), logs.F("original", written),
		logs.F("compressed", compressed))
	return meta, nil
}

// Meta returns the metadata for a live (unexpired) file.
func (s *Store) Meta(id string) (FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.files[id]
	if !ok || time.Now().After(meta.ExpiresAt) {
		return FileMetadata{}, ErrNotFound
	}
	return *meta, nil
}

// Open returns a streaming reader over the stored file. When the file
// was stored compressed and decompress is set, the reader yields
// plaintext through an LZ4 frame decoder; a corrupt frame surfaces as
// a read error, never as raw bytes.
func (s *Store) Open(id string, decompress bool) (io.ReadCloser, FileMetadata, error) {
	meta, err := s.Meta(id)
	if err != nil {
		return nil, FileMetadata{}, err
	}

	f, err := os.Open(s.pathFor(meta.ID, meta.Compressed))
	if err != nil {
		if os.IsNotExist(err) {
			// Metadata without an object: distinguishable in logs,
			// indistinguishable to the client.
			s.log.Warn("metadata without on-disk object", logs.F("id", id))
			return nil, FileMetadata{}, ErrNotFound
		}
		return nil, FileMetadata{}, err
	}

	if meta.Compressed && decompress {
		return &lz4ReadCloser{r: lz4.NewReader(f), f: f}, meta, nil
	}
	return f, meta, nil
}

type lz4ReadCloser struct {
	r *lz4.Reader
	f *os.File
}

func (l *lz4ReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *lz4ReadCloser) Close() error               { return l.f.Close() }

// Delete removes metadata and the on-disk object. Unknown ids and
// already-missing objects are fine; delete is idempotent.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	meta, ok := s.files[id]
	if ok {
		delete(s.files, id)
	}
	n := len(s.files)
	s.mu.Unlock()
	metrics.SetFiles(n)

	if !ok {
		return
	}
	if err := os.Remove(s.pathFor(meta.ID, meta.Compressed)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("unlink failed", logs.F("id", id), logs.F("err", err))
	}
}

// Stats for /api/stats.
type Stats struct {
	ActiveFiles       int
	TotalBytesRelayed int64
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{ActiveFiles: len(s.files), TotalBytesRelayed: s.totalBytes}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	var expired []string
	for id, meta := range s.files {
		if now.After(meta.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.log.Info("reaping expired file", logs.F("id", id))
		s.Delete(id)
	}
}

// StartJanitor deletes expired files every JanitorInterval until ctx
// is cancelled.
func (s *Store) StartJanitor(ctx context.Context) {
	t := time.NewTicker(JanitorInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.sweep(now)
			}
		}
	}()
}

// newFileID mints a 22-char URL-safe token from 16 random bytes.
func newFileID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
