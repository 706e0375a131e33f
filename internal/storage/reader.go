package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrInvalidHeader = errors.New("invalid .tsp file header")
	ErrCorrupt       = errors.New("corrupt partial snapshot")
)

// maxBlockMemory caps the decoded size of a single block.
const maxBlockMemory = 1 << 30

type PartialReader struct {
	decoder *zstd.Decoder
}

func NewPartialReader() (*PartialReader, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlockMemory))
	if err != nil {
		return nil, err
	}
	return &PartialReader{decoder: dec}, nil
}

// Decode reads a snapshot of the given size from r.
func (pr *PartialReader) Decode(r io.ReaderAt, size int64) (engine.PartialState, error) {
	var st engine.PartialState

	// 1. Validate Header
	if size < int64(len(MagicHeader))+footerSize {
		return st, fmt.Errorf("%w: %d bytes is too small", ErrCorrupt, size)
	}
	header := make([]byte, len(MagicHeader))
	if _, err := r.ReadAt(header, 0); err != nil {
		return st, err
	}
	if !bytes.Equal(header, MagicHeader) {
		return st, ErrInvalidHeader
	}

	// 2. Footer
	footer := make([]byte, footerSize)
	if _, err := r.ReadAt(footer, size-footerSize); err != nil {
		return st, err
	}
	valueCount := binary.LittleEndian.Uint64(footer[0:8])
	topCount := int(binary.LittleEndian.Uint32(footer[8:12]))
	shard := int64(binary.LittleEndian.Uint64(footer[12:20]))

	body := io.NewSectionReader(r, int64(len(MagicHeader)), size-int64(len(MagicHeader))-footerSize)

	// 3. Blocks
	metaData, err := pr.readAndDecompress(body)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(metaData, &st); err != nil {
		return st, fmt.Errorf("%w: meta: %v", ErrCorrupt, err)
	}
	if int64(st.Shard) != shard {
		return st, fmt.Errorf("%w: footer shard %d, meta shard %d", ErrCorrupt, shard, st.Shard)
	}

	valueData, err := pr.readAndDecompress(body)
	if err != nil {
		return st, err
	}
	if uint64(len(valueData)) != valueCount*8 {
		return st, fmt.Errorf("%w: expected %d values, got %d bytes", ErrCorrupt, valueCount, len(valueData))
	}
	switch st.Mode {
	case engine.ModeStreaming:
		st.HistCounts = bytesToInt64Slice(valueData)
	default:
		st.Values = bytesToFloat64Slice(valueData)
	}

	rawData, err := pr.readAndDecompress(body)
	if err != nil {
		return st, err
	}
	fieldData, err := pr.readAndDecompress(body)
	if err != nil {
		return st, err
	}
	recData, err := pr.readAndDecompress(body)
	if err != nil {
		return st, err
	}

	raws := bytesToStringSlice(rawData)
	fields := bytesToStringSlice(fieldData)
	if len(raws) != topCount || len(fields) != topCount || len(recData) != topCount*24 {
		return st, fmt.Errorf("%w: top-k column length mismatch", ErrCorrupt)
	}

	st.Top = make([]engine.LogRecord, topCount)
	recs := bytes.NewReader(recData)
	for i := range st.Top {
		var shardIdx, line int64
		binary.Read(recs, binary.LittleEndian, &st.Top[i].Latency)
		binary.Read(recs, binary.LittleEndian, &shardIdx)
		binary.Read(recs, binary.LittleEndian, &line)
		st.Top[i].Raw = raws[i]
		st.Top[i].Fields = fields[i]
		st.Top[i].Shard = int(shardIdx)
		st.Top[i].Line = line
	}
	return st, nil
}

// ReadFile decodes the snapshot stored at path.
func (pr *PartialReader) ReadFile(path string) (engine.PartialState, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.PartialState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return engine.PartialState{}, err
	}
	st, err := pr.Decode(f, info.Size())
	if err != nil {
		return st, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

// readAndDecompress reads a compressed block (size + data) and decompresses it.
// The block must fit in what is left of r.
func (pr *PartialReader) readAndDecompress(r *io.SectionReader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("%w: block size: %v", ErrCorrupt, err)
	}
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if remaining := r.Size() - pos; int64(size) > remaining {
		return nil, fmt.Errorf("%w: block of %d bytes with %d left", ErrCorrupt, size, remaining)
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: block data: %v", ErrCorrupt, err)
	}

	decompressed, err := pr.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return decompressed, nil
}

// bytesToInt64Slice converts a byte slice to []int64 (LittleEndian).
func bytesToInt64Slice(data []byte) []int64 {
	result := make([]int64, len(data)/8)
	binary.Read(bytes.NewReader(data), binary.LittleEndian, result)
	return result
}

func bytesToFloat64Slice(data []byte) []float64 {
	result := make([]float64, len(data)/8)
	binary.Read(bytes.NewReader(data), binary.LittleEndian, result)
	return result
}

// bytesToStringSlice converts a byte slice to []string.
// Format: [Len uint32][Bytes]...
func bytesToStringSlice(data []byte) []string {
	result := []string{}
	buf := bytes.NewReader(data)

	for buf.Len() > 0 {
		var length uint32
		if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
			break
		}
		if int64(length) > int64(buf.Len()) {
			break
		}
		strBytes := make([]byte, length)
		if _, err := io.ReadFull(buf, strBytes); err != nil {
			break
		}
		result = append(result, string(strBytes))
	}
	return result
}
