// Package snapshot persists a normalized table so later runs can skip
// ingestion.
//
// Layout: an 8-byte magic, a little-endian uint16 format version, then a
// zstd stream holding two gob values, the Header and the table columns.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
)

// Version is the current format version.
const Version uint16 = 1

var magic = [8]byte{'A', 'C', 'C', 'S', 'N', 'A', 'P', 0}

var (
	// ErrNotSnapshot means the input does not start with the snapshot magic.
	ErrNotSnapshot = errors.New("not a snapshot")
	// ErrVersion means the snapshot was written by an incompatible format version.
	ErrVersion = errors.New("unsupported snapshot version")
)

// Header describes a snapshot.
type Header struct {
	Version   uint16
	RunID     uuid.UUID
	CreatedAt time.Time
	Rows      int
	Columns   []string
}

// Encode writes t to w.
func Encode(w io.Writer, t *domain.Table, runID uuid.UUID) (Header, error) {
	h := Header{
		Version:   Version,
		RunID:     runID,
		CreatedAt: domain.Now(),
		Rows:      t.Len(),
		Columns:   t.ColumnNames(),
	}

	if _, err := w.Write(magic[:]); err != nil {
		return Header{}, fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, Version); err != nil {
		return Header{}, fmt.Errorf("write version: %w", err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return Header{}, fmt.Errorf("create zstd writer: %w", err)
	}
	g := gob.NewEncoder(enc)
	if err := g.Encode(h); err != nil {
		enc.Close()
		return Header{}, fmt.Errorf("encode header: %w", err)
	}
	if err := g.Encode(t.Export()); err != nil {
		enc.Close()
		return Header{}, fmt.Errorf("encode table: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Header{}, fmt.Errorf("close encoder: %w", err)
	}
	return h, nil
}

// Decode reads a table written by Encode.
func Decode(r io.Reader) (*domain.Table, Header, error) {
	h, dec, g, err := openStream(r)
	if err != nil {
		return nil, Header{}, err
	}
	defer dec.Close()

	var data domain.TableData
	if err := g.Decode(&data); err != nil {
		return nil, h, fmt.Errorf("decode table: %w", err)
	}
	// gob drops empty slices; an empty table has to come back with empty columns.
	if data.IDs == nil {
		data.IDs, data.Regions, data.Dates = []string{}, []domain.Region{}, []time.Time{}
	}
	t, err := domain.NewTable(data)
	if err != nil {
		return nil, h, fmt.Errorf("rebuild table: %w", err)
	}
	if t.Len() != h.Rows {
		return nil, h, fmt.Errorf("snapshot holds %d rows, header says %d", t.Len(), h.Rows)
	}
	return t, h, nil
}

// ReadHeader returns only the header of a snapshot.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	h, dec, _, err := openStream(bufio.NewReader(f))
	if err != nil {
		return Header{}, err
	}
	dec.Close()
	return h, nil
}

// openStream checks the preamble and decodes the header. The returned gob
// decoder must be used for the rest of the stream.
func openStream(r io.Reader) (Header, *zstd.Decoder, *gob.Decoder, error) {
	var m [8]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return Header{}, nil, nil, fmt.Errorf("%w: %w", ErrNotSnapshot, err)
	}
	if !bytes.Equal(m[:], magic[:]) {
		return Header{}, nil, nil, ErrNotSnapshot
	}
	var v uint16
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return Header{}, nil, nil, fmt.Errorf("read version: %w", err)
	}
	if v != Version {
		return Header{}, nil, nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, nil, nil, fmt.Errorf("create zstd reader: %w", err)
	}
	g := gob.NewDecoder(dec)
	var h Header
	if err := g.Decode(&h); err != nil {
		dec.Close()
		return Header{}, nil, nil, fmt.Errorf("decode header: %w", err)
	}
	return h, dec, g, nil
}

// Write persists t at path. The file is written next to path and renamed
// into place, so readers never see a partial snapshot.
func Write(path string, t *domain.Table, runID uuid.UUID) (Header, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return Header{}, fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	bw := bufio.NewWriterSize(tmp, 1024*1024)
	h, err := Encode(bw, t, runID)
	if err != nil {
		tmp.Close()
		return Header{}, err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return Header{}, fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Header{}, fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Header{}, fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Header{}, fmt.Errorf("rename snapshot: %w", err)
	}
	return h, nil
}

// Read loads the snapshot at path.
func Read(path string) (*domain.Table, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Decode(bufio.NewReaderSize(f, 1024*1024))
}
