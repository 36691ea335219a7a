package model

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"cryptdrive.io/core"
)

// sampleBlockSize is the size of each sampled block used to compute a
// content fingerprint (§3.1). Sampling avoids reading whole large files on
// every scan tick of the sync engine.
const sampleBlockSize = 16 * 1024

// maxSampleBlocks bounds how many blocks are sampled regardless of file
// size, keeping fingerprint cost O(1) rather than O(size).
const maxSampleBlocks = 4

// Fingerprint computes a core.Fingerprint from size, mtimeUnix and up to
// maxSampleBlocks blocks read via r, matching §3.1's "(size, mtime,
// CRC-of-sampled-blocks)" definition. r must support ReadAt; the sample
// offsets are evenly spaced across the file so a change anywhere in the
// file has a reasonable chance of being detected without a full read.
func Fingerprint(size int64, mtimeUnix int64, r io.ReaderAt) (core.Fingerprint, error) {
	var fp core.Fingerprint

	binary.LittleEndian.PutUint64(fp[0:8], uint64(size))
	binary.LittleEndian.PutUint32(fp[8:12], uint32(mtimeUnix))

	crc := crc32.NewIEEE()
	buf := make([]byte, sampleBlockSize)
	blocks := maxSampleBlocks
	if size <= 0 {
		blocks = 0
	}
	for i := 0; i < blocks; i++ {
		off := int64(i) * (size / int64(blocks))
		if off+sampleBlockSize > size {
			off = size - sampleBlockSize
		}
		if off < 0 {
			off = 0
		}
		n, err := r.ReadAt(buf, off)
		if n > 0 {
			crc.Write(buf[:n])
		}
		if err != nil && err != io.EOF {
			return fp, err
		}
	}
	binary.LittleEndian.PutUint32(fp[12:16], crc.Sum32())
	return fp, nil
}
