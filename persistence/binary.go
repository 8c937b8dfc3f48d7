package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/talentsift/matchcore/index/ivf"
)

// Snapshot is the full serializable engine state: the vector index dump plus
// the structured fields of every record.
type Snapshot struct {
	Index     *ivf.Export
	Fields    map[string]map[string][]string
	CreatedAt time.Time
}

// Options configures snapshot encoding.
type Options struct {
	// Compression selects the body codec.
	Compression Compression
	// ZstdLevel sets the zstd encoder level when Compression is zstd.
	ZstdLevel zstd.EncoderLevel
}

// DefaultOptions are the default snapshot encoding settings.
var DefaultOptions = Options{
	Compression: CompressionLZ4,
	ZstdLevel:   zstd.SpeedDefault,
}

const maxStringLen = math.MaxUint16

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxStringLen {
		return fmt.Errorf("string length %d exceeds limit %d", len(s), maxStringLen)
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeVector(buf *bytes.Buffer, vec []float32) {
	var f [4]byte
	for _, v := range vec {
		binary.LittleEndian.PutUint32(f[:], math.Float32bits(v))
		buf.Write(f[:])
	}
}

func readVector(r *bytes.Reader, dim int) ([]float32, error) {
	raw := make([]byte, dim*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

func encodeBody(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	writeVector(&buf, snap.Index.Centroids)

	for _, e := range snap.Index.Entries {
		if err := writeString(&buf, e.ID); err != nil {
			return nil, fmt.Errorf("entry id: %w", err)
		}
		if err := writeString(&buf, e.Hash); err != nil {
			return nil, fmt.Errorf("entry hash: %w", err)
		}
		var fixed [12]byte
		binary.LittleEndian.PutUint64(fixed[0:], e.Seq)
		binary.LittleEndian.PutUint32(fixed[8:], uint32(e.Partition))
		buf.Write(fixed[:])
		writeVector(&buf, e.Vector)
	}

	fieldsJSON, err := json.Marshal(snap.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(fieldsJSON)))
	buf.Write(lenBuf[:])
	buf.Write(fieldsJSON)

	return buf.Bytes(), nil
}

func decodeBody(body []byte, h header) (*Snapshot, error) {
	r := bytes.NewReader(body)
	dim := int(h.Dimension)

	centroids, err := readVector(r, int(h.PartitionCount)*dim)
	if err != nil {
		return nil, fmt.Errorf("%w: centroids: %v", ErrCorruptSnapshot, err)
	}
	if len(centroids) == 0 {
		centroids = nil
	}

	entries := make([]ivf.ExportedEntry, 0, h.VectorCount)
	for i := uint64(0); i < h.VectorCount; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d id: %v", ErrCorruptSnapshot, i, err)
		}
		hash, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d hash: %v", ErrCorruptSnapshot, i, err)
		}
		var fixed [12]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptSnapshot, i, err)
		}
		vec, err := readVector(r, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d vector: %v", ErrCorruptSnapshot, i, err)
		}
		entries = append(entries, ivf.ExportedEntry{
			ID:        id,
			Hash:      hash,
			Seq:       binary.LittleEndian.Uint64(fixed[0:]),
			Partition: int32(binary.LittleEndian.Uint32(fixed[8:])),
			Vector:    vec,
		})
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: fields length: %v", ErrCorruptSnapshot, err)
	}
	fieldsJSON := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, fieldsJSON); err != nil {
		return nil, fmt.Errorf("%w: fields: %v", ErrCorruptSnapshot, err)
	}
	var fields map[string]map[string][]string
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, fmt.Errorf("%w: decode fields: %v", ErrCorruptSnapshot, err)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, r.Len())
	}

	return &Snapshot{
		Index: &ivf.Export{
			Dimension: dim,
			Version:   h.StateVersion,
			Centroids: centroids,
			Entries:   entries,
		},
		Fields:    fields,
		CreatedAt: time.Unix(h.CreatedAt, 0).UTC(),
	}, nil
}

func compress(body []byte, opts Options) ([]byte, error) {
	switch opts.Compression {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(opts.ZstdLevel))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %v", opts.Compression)
	}
}

func decompress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(body, nil)
	default:
		return nil, fmt.Errorf("unknown compression %v", c)
	}
}

// Write encodes the snapshot to w: fixed header, compressed body, CRC32
// trailer over everything before it.
func Write(w io.Writer, snap *Snapshot, optFns ...func(o *Options)) error {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if snap == nil || snap.Index == nil {
		return fmt.Errorf("nil snapshot")
	}

	body, err := encodeBody(snap)
	if err != nil {
		return err
	}
	compressed, err := compress(body, opts)
	if err != nil {
		return fmt.Errorf("compress body: %w", err)
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	dim := snap.Index.Dimension
	partitionCount := 0
	if dim > 0 {
		partitionCount = len(snap.Index.Centroids) / dim
	}

	h := header{
		Magic:          Magic,
		FormatVersion:  FormatVersion,
		Compression:    uint8(opts.Compression),
		Dimension:      uint32(dim),
		PartitionCount: uint32(partitionCount),
		VectorCount:    uint64(len(snap.Index.Entries)),
		StateVersion:   snap.Index.Version,
		CreatedAt:      createdAt.Unix(),
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, h); err != nil {
		return err
	}
	out.Write(compressed)

	sum := crc32.ChecksumIEEE(out.Bytes())
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], sum)
	out.Write(crcBuf[:])

	_, err = w.Write(out.Bytes())
	return err
}

// Read decodes a snapshot, verifying magic, format version, checksum and
// structure. It never returns a partially decoded snapshot.
func Read(r io.Reader) (*Snapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	headerSize := binary.Size(header{})
	if len(raw) < headerSize+4 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorruptSnapshot, len(raw))
	}

	payload := raw[:len(raw)-4]
	expected := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if actual := crc32.ChecksumIEEE(payload); actual != expected {
		return nil, &ChecksumMismatchError{Expected: expected, Actual: actual}
	}

	var h header
	if err := binary.Read(bytes.NewReader(payload[:headerSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptSnapshot, err)
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrCorruptSnapshot, h.Magic)
	}
	if h.FormatVersion > FormatVersion {
		return nil, &VersionMismatchError{Found: h.FormatVersion, Supported: FormatVersion}
	}
	if h.Dimension == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorruptSnapshot)
	}

	body, err := decompress(payload[headerSize:], Compression(h.Compression))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptSnapshot, err)
	}

	return decodeBody(body, h)
}
