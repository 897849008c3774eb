package model

import "time"

// BallastHeader describes a pre-allocated ballast file: a fixed-size,
// content-random reserve that can be deleted to quickly free space in
// an emergency. The checksum covers only the magic and size header
// fields (not CreatedAt) plus the first and last blocks of the body, so a file can be verified without
// reading its full (possibly multi-gigabyte) content.
type BallastHeader struct {
	Magic     string
	SizeBytes uint64
	CreatedAt time.Time
	Checksum  [32]byte
}
