package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DeltaCompressor кодирует пакет изменений в полезную нагрузку SyncBatch и обратно
type DeltaCompressor interface {
	Compress(changes []Change) ([]byte, error)
	Decompress(payload []byte) ([]Change, error)
	Name() string
}

type passthroughCompressor struct{}

// NewPassthroughCompressor кодирует пакет в JSON без сжатия
func NewPassthroughCompressor() DeltaCompressor { return passthroughCompressor{} }

func (passthroughCompressor) Name() string { return "json" }

func (passthroughCompressor) Compress(changes []Change) ([]byte, error) {
	return json.Marshal(changes)
}

func (passthroughCompressor) Decompress(payload []byte) ([]Change, error) {
	var changes []Change
	if err := json.Unmarshal(payload, &changes); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return changes, nil
}

// gzipCompressor сжимает JSON-пакет gzip. Дельты сетки состоят из
// повторяющихся ключей и координат и хорошо сжимаются.
type gzipCompressor struct {
	level int
}

// NewGzipCompressor создаёт компрессор с уровнем сжатия level
// (gzip.DefaultCompression, если level вне допустимого диапазона)
func NewGzipCompressor(level int) DeltaCompressor {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return gzipCompressor{level: level}
}

func (gzipCompressor) Name() string { return "gzip" }

func (g gzipCompressor) Compress(changes []Change) ([]byte, error) {
	raw, err := passthroughCompressor{}.Compress(changes)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(payload []byte) ([]Change, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return passthroughCompressor{}.Decompress(raw)
}

// zstdCompressor сжимает JSON-пакет zstd. EncodeAll и DecodeAll
// безопасны для параллельного вызова, поэтому кодеры общие.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor создаёт zstd-компрессор со скоростью SpeedDefault
func NewZstdCompressor() (DeltaCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return zstdCompressor{enc: enc, dec: dec}, nil
}

func (zstdCompressor) Name() string { return "zstd" }

func (z zstdCompressor) Compress(changes []Change) ([]byte, error) {
	raw, err := passthroughCompressor{}.Compress(changes)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, nil), nil
}

func (z zstdCompressor) Decompress(payload []byte) ([]Change, error) {
	raw, err := z.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd read: %w", err)
	}
	return passthroughCompressor{}.Decompress(raw)
}
