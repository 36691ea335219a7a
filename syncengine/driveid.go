package syncengine

import (
	"encoding/binary"
	"path"
	"time"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// driveIDRelPath is where an external backup's drive-id file lives,
// relative to the drive's root (§6.3).
const driveIDRelPath = ".megabackup/drive-id"

// ensureDriveID reads the drive-id file under drive, creating one with a
// freshly minted identifier if absent. The identifier is a raw
// little-endian 64-bit value whose top 32 bits are PRNG output ORed with
// the current Unix time and whose low 32 bits are PRNG output (§6.3).
// Identifiers are not ordered by the time they were minted.
func ensureDriveID(fs core.FileSystemAccess, drive string, prng core.PRNG) (uint64, error) {
	p := path.Join(drive, driveIDRelPath)
	if id, ok, err := readDriveID(fs, p); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	id := mintDriveID(prng)
	if err := fs.Mkdir(path.Dir(p)); err != nil {
		return 0, err
	}
	f, err := fs.Open(p, true)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return 0, err
	}
	return id, nil
}

func readDriveID(fs core.FileSystemAccess, p string) (uint64, bool, error) {
	size, _, err := fs.Stat(p)
	if err != nil {
		if errors.Match(errors.NotExist, err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if size < 8 {
		return 0, false, nil
	}
	f, err := fs.Open(p, false)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	var buf [8]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return 0, false, err
	}
	return binary.LittleEndian.Uint64(buf[:]), true, nil
}

func mintDriveID(prng core.PRNG) uint64 {
	var top uint32
	if prng != nil {
		top = uint32(prng.Int63())
	}
	top |= uint32(time.Now().Unix())
	low := uint32(0)
	if prng != nil {
		low = uint32(prng.Int63())
	}
	return uint64(top)<<32 | uint64(low)
}
