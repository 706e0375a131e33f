package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

// Range is a newline-aligned byte range of a file.
type Range struct {
	Offset int64
	Length int64
}

// IsCompressed reports whether path is read through a decompressor.
func IsCompressed(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".zst", ".zstd":
		return true
	}
	return false
}

// OpenLines opens path for reading. .gz and .zst files are decompressed.
func OpenLines(path string) (io.ReadCloser, error) {
	if path == Stdin {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rc, err := Decompress(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rc, nil
}

// Decompress wraps r according to the extension of name. Closing the
// result also closes r when r is an io.Closer.
func Decompress(name string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", name, err)
		}
		return &decompressor{Reader: zr, closeFn: zr.Close, under: r}, nil
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", name, err)
		}
		return &decompressor{Reader: dec, closeFn: func() error { dec.Close(); return nil }, under: r}, nil
	default:
		if rc, ok := r.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(r), nil
	}
}

type decompressor struct {
	io.Reader
	closeFn func() error
	under   io.Reader
}

func (d *decompressor) Close() error {
	err := d.closeFn()
	if c, ok := d.under.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SplitFile divides a plain file into at most n ranges that start at line
// beginnings. Small files may yield fewer ranges.
func SplitFile(path string, n int) ([]Range, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if n <= 1 || size == 0 {
		return []Range{{Offset: 0, Length: size}}, nil
	}

	bounds := []int64{0}
	for i := 1; i < n; i++ {
		target := size * int64(i) / int64(n)
		if target <= bounds[len(bounds)-1] {
			continue
		}
		next, err := nextLineStart(f, target)
		if err != nil {
			return nil, err
		}
		if next > bounds[len(bounds)-1] && next < size {
			bounds = append(bounds, next)
		}
	}
	bounds = append(bounds, size)

	ranges := make([]Range, 0, len(bounds)-1)
	for i := 0; i < len(bounds)-1; i++ {
		ranges = append(ranges, Range{Offset: bounds[i], Length: bounds[i+1] - bounds[i]})
	}
	return ranges, nil
}

// nextLineStart returns the offset just past the first '\n' at or after off,
// or the file size when there is none.
func nextLineStart(f *os.File, off int64) (int64, error) {
	// A boundary right after a newline already starts a line.
	prev := make([]byte, 1)
	if _, err := f.ReadAt(prev, off-1); err == nil && prev[0] == '\n' {
		return off, nil
	}

	br := bufio.NewReader(io.NewSectionReader(f, off, 1<<62))
	skipped, err := br.ReadSlice('\n')
	pos := off + int64(len(skipped))
	for err == bufio.ErrBufferFull {
		skipped, err = br.ReadSlice('\n')
		pos += int64(len(skipped))
	}
	if err != nil && err != io.EOF {
		return 0, err
	}
	return pos, nil
}

// OpenRange opens one range of a plain file.
func OpenRange(path string, rg Range) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &rangeReader{SectionReader: io.NewSectionReader(f, rg.Offset, rg.Length), f: f}, nil
}

type rangeReader struct {
	*io.SectionReader
	f *os.File
}

func (r *rangeReader) Close() error {
	return r.f.Close()
}

// Shards turns input paths into shards numbered in input order. Plain files
// are split into chunks ranges each; compressed files and stdin are read
// whole.
func Shards(paths []string, chunks int) ([]engine.Shard, error) {
	if len(paths) == 0 {
		paths = []string{Stdin}
	}

	var shards []engine.Shard
	for _, path := range paths {
		path := path
		if path == Stdin || IsCompressed(path) || chunks <= 1 {
			var size int64
			if path != Stdin {
				info, err := os.Stat(path)
				if err != nil {
					return nil, err
				}
				size = info.Size()
			}
			shards = append(shards, engine.Shard{
				Index: len(shards),
				Name:  path,
				Size:  size,
				Open:  func() (io.ReadCloser, error) { return OpenLines(path) },
			})
			continue
		}

		ranges, err := SplitFile(path, chunks)
		if err != nil {
			return nil, err
		}
		for i, rg := range ranges {
			rg := rg
			shards = append(shards, engine.Shard{
				Index: len(shards),
				Name:  fmt.Sprintf("%s[%d/%d]", path, i+1, len(ranges)),
				Size:  rg.Length,
				Open:  func() (io.ReadCloser, error) { return OpenRange(path, rg) },
			})
		}
	}
	return shards, nil
}
