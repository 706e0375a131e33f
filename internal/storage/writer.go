package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/klauspost/compress/zstd"
)

// Partial snapshot header
var MagicHeader = []byte("TAILST01")

// footerSize is ValueCount(8) + TopCount(4) + Shard(8).
const footerSize = 20

// PartialWriter encodes partials as .tsp snapshots:
//
//	Header | meta | values | top raw | top fields | top records | Footer
//
// Every block is [Compressed Size uint32][zstd data]. Values hold the
// batch observations (float64) or the streaming bucket counts (int64).
type PartialWriter struct {
	encoder *zstd.Encoder
}

func NewPartialWriter() (*PartialWriter, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithZeroFrames(true))
	if err != nil {
		return nil, err
	}
	return &PartialWriter{encoder: enc}, nil
}

// Encode writes the snapshot of p to w.
func (pw *PartialWriter) Encode(w io.Writer, p *engine.Partial) error {
	return pw.EncodeState(w, p.Export())
}

// EncodeState writes an exported partial to w.
func (pw *PartialWriter) EncodeState(w io.Writer, st engine.PartialState) error {
	buf := new(bytes.Buffer)
	buf.Write(MagicHeader)

	// 1. Meta: everything except the bulky columns
	meta := st
	meta.Values, meta.HistCounts, meta.Top = nil, nil, nil
	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	pw.compressAndWrite(buf, metaData)

	// 2. Values
	var valueCount uint64
	col := new(bytes.Buffer)
	switch st.Mode {
	case engine.ModeStreaming:
		valueCount = uint64(len(st.HistCounts))
		binary.Write(col, binary.LittleEndian, st.HistCounts)
	default:
		valueCount = uint64(len(st.Values))
		binary.Write(col, binary.LittleEndian, st.Values)
	}
	pw.compressAndWrite(buf, col.Bytes())

	// 3. Top-K records, column by column
	raws := make([]string, len(st.Top))
	fields := make([]string, len(st.Top))
	for i, rec := range st.Top {
		raws[i] = rec.Raw
		fields[i] = rec.Fields
	}
	pw.writeStringCol(buf, raws)
	pw.writeStringCol(buf, fields)

	recs := new(bytes.Buffer)
	for _, rec := range st.Top {
		binary.Write(recs, binary.LittleEndian, rec.Latency)
		binary.Write(recs, binary.LittleEndian, int64(rec.Shard))
		binary.Write(recs, binary.LittleEndian, rec.Line)
	}
	pw.compressAndWrite(buf, recs.Bytes())

	// 4. Footer
	binary.Write(buf, binary.LittleEndian, valueCount)
	binary.Write(buf, binary.LittleEndian, uint32(len(st.Top)))
	binary.Write(buf, binary.LittleEndian, int64(st.Shard))

	_, err = w.Write(buf.Bytes())
	return err
}

// WriteFile stores p at path. The file is written to a temporary name and
// renamed, so readers never see a partial snapshot.
func (pw *PartialWriter) WriteFile(path string, p *engine.Partial) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := pw.Encode(f, p); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode partial: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (pw *PartialWriter) writeStringCol(buf *bytes.Buffer, data []string) {
	col := new(bytes.Buffer)
	// Serialize: [Len uint32][Bytes]...
	for _, s := range data {
		binary.Write(col, binary.LittleEndian, uint32(len(s)))
		col.WriteString(s)
	}
	pw.compressAndWrite(buf, col.Bytes())
}

func (pw *PartialWriter) compressAndWrite(buf *bytes.Buffer, raw []byte) {
	compressed := pw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
	binary.Write(buf, binary.LittleEndian, uint32(len(compressed)))
	buf.Write(compressed)
}
