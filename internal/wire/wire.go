// Package wire encodes dataset slices for transfer between the coordinator
// and workers.
//
// A slice travels as raw little-endian float32 values. The sender computes a
// murmur3 checksum over the encoded bytes and sends it ahead of the body in
// a header, so a receiver can reject a truncated or corrupted slice before
// it is binned.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Header names carried alongside a slice body.
const (
	HeaderRunID    = "X-Run-ID"
	HeaderOffset   = "X-Slice-Offset"
	HeaderCount    = "X-Slice-Count"
	HeaderChecksum = "X-Slice-Checksum"

	ContentType = "application/octet-stream"
)

// SampleSize is the encoded size of one sample in bytes.
const SampleSize = 4

// chunk is the number of samples encoded per buffered write.
const chunk = 4096

var (
	// ErrChecksum is returned when the received bytes do not hash to the
	// advertised checksum.
	ErrChecksum = errors.New("slice checksum mismatch")
	// ErrShortSlice is returned when the body holds fewer samples than advertised.
	ErrShortSlice = errors.New("slice shorter than advertised")
	// ErrLongSlice is returned when the body holds more bytes than advertised.
	ErrLongSlice = errors.New("slice longer than advertised")
)

// Checksum returns the murmur3 64-bit hash of the encoded form of samples.
func Checksum(samples []float32) uint64 {
	h := murmur3.New64()
	// writing to a hash never fails
	_ = encode(h, samples)
	return h.Sum64()
}

// Encode writes samples to w in wire format.
func Encode(w io.Writer, samples []float32) error {
	bw := bufio.NewWriterSize(w, chunk*SampleSize)
	if err := encode(bw, samples); err != nil {
		return err
	}
	return bw.Flush()
}

func encode(w io.Writer, samples []float32) error {
	var buf [chunk * SampleSize]byte
	for len(samples) > 0 {
		n := len(samples)
		if n > chunk {
			n = chunk
		}
		for i, x := range samples[:n] {
			binary.LittleEndian.PutUint32(buf[i*SampleSize:], math.Float32bits(x))
		}
		if _, err := w.Write(buf[:n*SampleSize]); err != nil {
			return err
		}
		samples = samples[n:]
	}
	return nil
}

// Decode reads exactly count samples from r and verifies them against sum.
// Trailing bytes after count samples are an error.
func Decode(r io.Reader, count int64, sum uint64) ([]float32, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrShortSlice, count)
	}
	h := murmur3.New64()
	br := bufio.NewReaderSize(io.TeeReader(r, h), chunk*SampleSize)

	out := make([]float32, count)
	var buf [SampleSize]byte
	for i := range out {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: got %d of %d samples", ErrShortSlice, i, count)
			}
			return nil, err
		}
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	if n, _ := br.Read(buf[:1]); n > 0 {
		return nil, fmt.Errorf("%w: expected %d samples", ErrLongSlice, count)
	}
	if got := h.Sum64(); got != sum {
		return nil, fmt.Errorf("%w: got %016x, want %016x", ErrChecksum, got, sum)
	}
	return out, nil
}

// FormatChecksum renders a checksum for the checksum header.
func FormatChecksum(sum uint64) string {
	return strconv.FormatUint(sum, 16)
}

// ParseChecksum parses the value of the checksum header.
func ParseChecksum(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}
