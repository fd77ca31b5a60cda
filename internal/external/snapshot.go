package external

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/klauspost/compress/zstd"

	"rollcall/internal/types"
)

const snapshotExt = ".html.zst"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SnapshotStore keeps zstd-compressed copies of pages on which a submission
// failed, for later diagnosis.
type SnapshotStore struct {
	dir   string
	clock types.Clock

	encoder *zstd.Encoder
	// decoderPool provides reusable zstd decoders.
	decoderPool sync.Pool
}

// NewSnapshotStore creates dir if needed and returns a store writing to it.
func NewSnapshotStore(dir string, clock types.Clock) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating snapshot dir %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SnapshotStore{
		dir:     dir,
		clock:   clock,
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					// Cannot fail with nil input and default options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}, nil
}

// Save compresses body into a file named after the current time and label,
// and returns its path.
func (s *SnapshotStore) Save(label string, body []byte) (string, error) {
	name := fmt.Sprintf("%s-%s%s",
		s.clock.Now().UTC().Format("20060102T150405.000"),
		unsafeNameChars.ReplaceAllString(label, "_"),
		snapshotExt)
	path := filepath.Join(s.dir, name)

	// EncodeAll is safe for concurrent use on a shared encoder.
	compressed := s.encoder.EncodeAll(body, nil)
	if err := os.WriteFile(path, compressed, 0o640); err != nil {
		return "", fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return path, nil
}

// Load returns the decompressed content of a snapshot written by Save.
func (s *SnapshotStore) Load(path string) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decoder := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(decoder)

	body, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return body, nil
}
