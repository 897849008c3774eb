package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/joyshmitz/sbh/model"
)

var checkpointMagic = [8]byte{'s', 'b', 'h', 'm', 'r', 'k', 'l', '1'}

const checkpointVersion uint32 = 1

// ScanIndex is the Merkle-fingerprinted directory snapshot (C7). A cycle
// begins at BuildFromEntries (there is no separate Reset method); health only moves
// Healthy -> Degraded -> Corrupt within one cycle.
type ScanIndex struct {
	rootFingerprints map[string][32]byte
	entryDigests     map[string][32]byte
	entries          map[string]model.ScanEntry
	health           model.IndexHealth
}

// NewScanIndex constructs an empty, Healthy index.
func NewScanIndex() *ScanIndex {
	return &ScanIndex{
		rootFingerprints: map[string][32]byte{},
		entryDigests:     map[string][32]byte{},
		entries:          map[string]model.ScanEntry{},
		health:           model.Healthy,
	}
}

// entryDigest computes the stable per-entry digest over the canonical
// tuple ordering fixed by spec.
func entryDigest(e model.ScanEntry) [32]byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\x00%d\x00%d\x00%t\x00%d\x00%d\x00%d",
		e.RelPath, e.SizeBytes, e.ModifiedNanos, e.IsDir, e.Permissions, e.Inode, e.DeviceID)
	return sha256.Sum256(buf.Bytes())
}

// foldDigests computes the Merkle fold over digests already sorted by
// the caller; folding a pre-sorted slice keeps root-digest computation
// deterministic regardless of map iteration order.
func foldDigests(sorted [][32]byte) [32]byte {
	h := sha256.New()
	for _, d := range sorted {
		h.Write(d[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// BuildFromEntries replaces the index contents wholesale and opens a new
// health cycle at Healthy.
func (idx *ScanIndex) BuildFromEntries(entries []model.ScanEntry, roots []string) {
	idx.entries = make(map[string]model.ScanEntry, len(entries))
	idx.entryDigests = make(map[string][32]byte, len(entries))
	for _, e := range entries {
		idx.entries[e.RelPath] = e
		idx.entryDigests[e.RelPath] = entryDigest(e)
	}
	idx.rootFingerprints = make(map[string][32]byte, len(roots))
	for _, root := range roots {
		idx.rootFingerprints[root] = idx.rootDigestFor(root)
	}
	idx.health = model.Healthy
}

func (idx *ScanIndex) rootDigestFor(root string) [32]byte {
	var paths []string
	for p := range idx.entries {
		if pathUnderRoot(p, root) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	digests := make([][32]byte, len(paths))
	for i, p := range paths {
		digests[i] = idx.entryDigests[p]
	}
	return foldDigests(digests)
}

func pathUnderRoot(path, root string) bool {
	if root == "" || root == "." {
		return true
	}
	if path == root {
		return true
	}
	return len(path) > len(root) && path[:len(root)] == root && path[len(root)] == '/'
}

// Health returns the current cycle's health.
func (idx *ScanIndex) Health() model.IndexHealth { return idx.health }

// MarkCorrupt forces Corrupt, the terminal state for the current cycle.
func (idx *ScanIndex) MarkCorrupt() { idx.health = model.Corrupt }

// RequiresFullScan reports whether the index can no longer be trusted
// for incremental diffing.
func (idx *ScanIndex) RequiresFullScan() bool { return idx.health == model.Corrupt }

// Diff walks current in deterministic (sorted relative-path) order,
// decrementing budget per entry examined and per byte of its size. On
// budget exhaustion it returns a partial result and downgrades health to
// Degraded for the remainder of this cycle. When health is Corrupt,
// every supplied path is reported as new-or-changed regardless of
// stored digests, since no stale identity assumption may survive
// corruption.
func (idx *ScanIndex) Diff(current []model.ScanEntry, budget *model.ScanBudget) model.DiffResult {
	sorted := append([]model.ScanEntry(nil), current...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	result := model.DiffResult{Health: idx.health}
	seen := make(map[string]bool, len(sorted))

	for _, e := range sorted {
		if budget.Exhausted() {
			result.BudgetExhausted = true
			if idx.health == model.Healthy {
				idx.health = model.Degraded
			}
			result.Health = idx.health
			break
		}
		budget.EntriesRemaining--
		budget.BytesRemaining -= int64(e.SizeBytes)

		seen[e.RelPath] = true
		if idx.health == model.Corrupt {
			result.ChangedPaths = append(result.ChangedPaths, e.RelPath)
			continue
		}

		prior, existed := idx.entries[e.RelPath]
		if !existed {
			result.NewPaths = append(result.NewPaths, e.RelPath)
			continue
		}
		if entryDigest(e) != entryDigest(prior) {
			result.ChangedPaths = append(result.ChangedPaths, e.RelPath)
		}
	}

	if !result.BudgetExhausted && idx.health != model.Corrupt {
		for p := range idx.entries {
			if !seen[p] {
				result.RemovedPaths = append(result.RemovedPaths, p)
			}
		}
		sort.Strings(result.RemovedPaths)
	}

	result.Health = idx.health
	return result
}

// checkpoint layout: magic(8) | version(u32) | entry_count(u64) |
// [relpath_len(u32) relpath size(u64) modified(i64) isdir(u8) perm(u32)
// inode(u64) device(u64)]... | trailer_digest(32)
func (idx *ScanIndex) SaveCheckpoint() []byte {
	var body bytes.Buffer
	body.Write(checkpointMagic[:])
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], checkpointVersion)
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(idx.entries)))
	body.Write(hdr[:])

	paths := make([]string, 0, len(idx.entries))
	for p := range idx.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		e := idx.entries[p]
		writeEntry(&body, e)
	}

	sum := sha256.Sum256(body.Bytes())
	body.Write(sum[:])
	return body.Bytes()
}

func writeEntry(buf *bytes.Buffer, e model.ScanEntry) {
	pathBytes := []byte(e.RelPath)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(pathBytes)))
	buf.Write(lenBuf[:])
	buf.Write(pathBytes)

	var rest [1 + 8 + 8 + 4 + 8 + 8]byte
	o := 0
	binary.BigEndian.PutUint64(rest[o:o+8], e.SizeBytes)
	o += 8
	binary.BigEndian.PutUint64(rest[o:o+8], uint64(e.ModifiedNanos))
	o += 8
	if e.IsDir {
		rest[o] = 1
	}
	o++
	binary.BigEndian.PutUint32(rest[o:o+4], e.Permissions)
	o += 4
	binary.BigEndian.PutUint64(rest[o:o+8], e.Inode)
	o += 8
	binary.BigEndian.PutUint64(rest[o:o+8], e.DeviceID)
	buf.Write(rest[:])
}

// LoadCheckpoint validates the trailing integrity digest and, on
// success, returns a new index built from the checkpoint. A mismatch
// returns an error and no index; the caller must rebuild from a fresh walk.
func LoadCheckpoint(data []byte) (*ScanIndex, error) {
	const headerLen = 8 + 4 + 8
	const digestLen = 32
	if len(data) < headerLen+digestLen {
		return nil, model.NewError(model.ErrIntegrityFailed, "checkpoint truncated", "rebuild the scan index from a fresh walk")
	}
	if !bytes.Equal(data[:8], checkpointMagic[:]) {
		return nil, model.NewError(model.ErrIntegrityFailed, "checkpoint magic mismatch", "rebuild the scan index from a fresh walk")
	}

	body := data[:len(data)-digestLen]
	trailer := data[len(data)-digestLen:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, model.NewError(model.ErrIntegrityFailed, "checkpoint digest mismatch", "rebuild the scan index from a fresh walk")
	}

	version := binary.BigEndian.Uint32(data[8:12])
	if version != checkpointVersion {
		return nil, model.NewError(model.ErrIntegrityFailed, "unsupported checkpoint version", "rebuild the scan index from a fresh walk")
	}
	count := binary.BigEndian.Uint64(data[12:20])

	idx := NewScanIndex()
	off := headerLen
	for i := uint64(0); i < count; i++ {
		if off+4 > len(body) {
			return nil, model.NewError(model.ErrIntegrityFailed, "checkpoint entry truncated", "rebuild the scan index from a fresh walk")
		}
		plen := int(binary.BigEndian.Uint32(body[off : off+4]))
		off += 4
		if off+plen > len(body) {
			return nil, model.NewError(model.ErrIntegrityFailed, "checkpoint entry truncated", "rebuild the scan index from a fresh walk")
		}
		relPath := string(body[off : off+plen])
		off += plen

		fixedLen := 1 + 8 + 8 + 4 + 8 + 8
		if off+fixedLen > len(body) {
			return nil, model.NewError(model.ErrIntegrityFailed, "checkpoint entry truncated", "rebuild the scan index from a fresh walk")
		}
		rest := body[off : off+fixedLen]
		o := 0
		size := binary.BigEndian.Uint64(rest[o : o+8])
		o += 8
		modified := int64(binary.BigEndian.Uint64(rest[o : o+8]))
		o += 8
		isDir := rest[o] == 1
		o++
		perm := binary.BigEndian.Uint32(rest[o : o+4])
		o += 4
		inode := binary.BigEndian.Uint64(rest[o : o+8])
		o += 8
		device := binary.BigEndian.Uint64(rest[o : o+8])
		off += fixedLen

		e := model.ScanEntry{
			RelPath: relPath, SizeBytes: size, ModifiedNanos: modified,
			IsDir: isDir, Permissions: perm, Inode: inode, DeviceID: device,
		}
		idx.entries[relPath] = e
		idx.entryDigests[relPath] = entryDigest(e)
	}

	idx.health = model.Healthy
	return idx, nil
}
