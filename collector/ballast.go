package collector

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// ballastMagic identifies a file as a managed ballast reserve, distinct
// from an arbitrary large file a candidate scan might also find.
const ballastMagic = "SBHBALL1"

// ballastHeaderSize is the fixed on-disk header: 8-byte magic,
// 8-byte size, 8-byte created-at (unix nanoseconds), 32-byte checksum.
const ballastHeaderSize = 8 + 8 + 8 + 32

// ballastSampleSize is how much of the body the checksum actually
// covers at each end, keeping verification O(1) in the ballast size
// instead of O(n).
const ballastSampleSize = 4096

// WriteBallast creates a new ballast file at path containing sizeBytes
// of random content (incompressible, so the filesystem cannot turn it
// into a sparse hole), preceded by a header the verifier can check
// without reading the whole body. Grounded on the same sha256 primitive
// the scan index (engine/scanindex.go) already uses for content
// fingerprints, rather than introducing a second hash dependency for
// the same purpose.
func WriteBallast(path string, sizeBytes uint64) (model.BallastHeader, error) {
	hdr := model.BallastHeader{
		Magic:     ballastMagic,
		SizeBytes: sizeBytes,
		CreatedAt: time.Now(),
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return model.BallastHeader{}, fmt.Errorf("create ballast file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(ballastHeaderSize, io.SeekStart); err != nil {
		return model.BallastHeader{}, err
	}

	headLen := min64(ballastSampleSize, sizeBytes)
	head := make([]byte, headLen)
	if headLen > 0 {
		if _, err := io.ReadFull(rand.Reader, head); err != nil {
			return model.BallastHeader{}, fmt.Errorf("generate ballast content: %w", err)
		}
		if _, err := f.Write(head); err != nil {
			return model.BallastHeader{}, err
		}
	}

	tail := head
	if sizeBytes > headLen {
		if err := streamRandom(f, sizeBytes-headLen); err != nil {
			return model.BallastHeader{}, err
		}
		tailLen := min64(ballastSampleSize, sizeBytes)
		tail = make([]byte, tailLen)
		if _, err := f.Seek(-int64(tailLen), io.SeekCurrent); err != nil {
			return model.BallastHeader{}, err
		}
		if _, err := io.ReadFull(f, tail); err != nil {
			return model.BallastHeader{}, fmt.Errorf("read ballast trailer: %w", err)
		}
	}

	hdr.Checksum = ballastChecksum(hdr, head, tail)
	if err := writeBallastHeader(f, hdr); err != nil {
		return model.BallastHeader{}, err
	}
	return hdr, nil
}

// streamRandom writes n bytes of random filler to w in fixed-size
// chunks, so a multi-gigabyte ballast never needs an equally large
// in-memory buffer.
func streamRandom(w io.Writer, n uint64) error {
	const chunk = 1 << 20
	buf := make([]byte, chunk)
	for n > 0 {
		take := uint64(chunk)
		if n < take {
			take = n
		}
		if _, err := io.ReadFull(rand.Reader, buf[:take]); err != nil {
			return err
		}
		if _, err := w.Write(buf[:take]); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func writeBallastHeader(f *os.File, hdr model.BallastHeader) error {
	buf := make([]byte, ballastHeaderSize)
	copy(buf[0:8], ballastMagic)
	binary.BigEndian.PutUint64(buf[8:16], hdr.SizeBytes)
	binary.BigEndian.PutUint64(buf[16:24], uint64(hdr.CreatedAt.UnixNano()))
	copy(buf[24:56], hdr.Checksum[:])
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write ballast header: %w", err)
	}
	return nil
}

func readBallastHeader(f *os.File) (model.BallastHeader, error) {
	buf := make([]byte, ballastHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return model.BallastHeader{}, fmt.Errorf("read ballast header: %w", err)
	}
	if string(buf[0:8]) != ballastMagic {
		return model.BallastHeader{}, fmt.Errorf("not a ballast file: bad magic")
	}
	var hdr model.BallastHeader
	hdr.Magic = ballastMagic
	hdr.SizeBytes = binary.BigEndian.Uint64(buf[8:16])
	hdr.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(buf[16:24])))
	copy(hdr.Checksum[:], buf[24:56])
	return hdr, nil
}

func ballastChecksum(hdr model.BallastHeader, head, tail []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(ballastMagic))
	var szBuf [8]byte
	binary.BigEndian.PutUint64(szBuf[:], hdr.SizeBytes)
	h.Write(szBuf[:])
	h.Write(head)
	h.Write(tail)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyBallast checks a ballast file's header and checksum against its
// first and last ballastSampleSize bytes, without reading the body in
// between — the spec's "verify first 4KiB + trailer" contract.
func VerifyBallast(path string) (model.BallastHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.BallastHeader{}, fmt.Errorf("open ballast file: %w", err)
	}
	defer f.Close()

	hdr, err := readBallastHeader(f)
	if err != nil {
		return model.BallastHeader{}, err
	}

	info, err := f.Stat()
	if err != nil {
		return model.BallastHeader{}, err
	}
	wantSize := int64(ballastHeaderSize) + int64(hdr.SizeBytes)
	if info.Size() != wantSize {
		return hdr, fmt.Errorf("ballast size mismatch: header says %d, file is %d bytes", wantSize, info.Size())
	}

	headLen := min64(ballastSampleSize, hdr.SizeBytes)
	head := make([]byte, headLen)
	if headLen > 0 {
		if _, err := io.ReadFull(f, head); err != nil {
			return hdr, fmt.Errorf("read ballast head: %w", err)
		}
	}

	tail := head
	if hdr.SizeBytes > headLen {
		tailLen := min64(ballastSampleSize, hdr.SizeBytes)
		tail = make([]byte, tailLen)
		if _, err := f.Seek(-int64(tailLen), io.SeekEnd); err != nil {
			return hdr, err
		}
		if _, err := io.ReadFull(f, tail); err != nil {
			return hdr, fmt.Errorf("read ballast trailer: %w", err)
		}
	}

	got := ballastChecksum(hdr, head, tail)
	if got != hdr.Checksum {
		return hdr, fmt.Errorf("ballast checksum mismatch: file may be corrupt or truncated")
	}
	return hdr, nil
}

// ReleaseBallast deletes a ballast file, freeing its reserved space
// immediately.
func ReleaseBallast(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("release ballast file: %w", err)
	}
	return nil
}
