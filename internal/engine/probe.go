package engine

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/tis24dev/hostmigrate/internal/types"
)

// ErrCorruptArtifact is returned when an artifact does not decode to a tar stream.
var ErrCorruptArtifact = errors.New("corrupt artifact")

var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// ProbeArtifact checks that the archive at path decodes far enough to yield
// its first tar header. xz archives are only checked for their magic bytes.
func ProbeArtifact(path string, compression types.CompressionType) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader
	switch compression {
	case types.CompressionZstd:
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, path, err)
		}
		defer dec.Close()
		r = dec
	case types.CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, path, err)
		}
		defer gz.Close()
		r = gz
	case types.CompressionBzip2:
		r = bzip2.NewReader(br)
	case types.CompressionXZ:
		head, err := br.Peek(len(xzMagic))
		if err != nil || !bytes.Equal(head, xzMagic) {
			return fmt.Errorf("%w: %s: missing xz header", ErrCorruptArtifact, path)
		}
		return nil
	default:
		return fmt.Errorf("unsupported compression %q", compression)
	}

	if _, err := tar.NewReader(r).Next(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, path, err)
	}
	return nil
}
