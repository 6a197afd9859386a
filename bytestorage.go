// Package storage implements a ring-structured append-only journal on top of
// erase-before-write byte-addressable storage such as NOR flash. Records of
// variable length are appended to a ring of sectors; after a power loss the
// journal recovers its state by scanning the medium and continues writing,
// overwriting the oldest records once the ring wraps.
package storage

import (
	"io"
	"math/bits"
	"time"
)

// ByteStorage represents external byte-addressable storage that can be erased
// only by whole sectors (e.g. NOR flash). Erased bytes read as 0xFF, and
// programming can only clear bits: a write ANDs the new data into the
// existing content. Flipping a bit back to 1 requires erasing the sector.
//
// Addresses and lengths must lie within the storage; violating that is a
// programmer error and implementations are expected to panic.
type ByteStorage interface {
	// Geometry returns the size and sector layout of the storage.
	Geometry() Geometry

	// Read reads data from the storage into the specified buffer.
	Read(addr uint32, buf []byte) error
	// ReadToRegister streams bytes from the storage one at a time into the
	// specified memory location (e.g. a hardware register).
	ReadToRegister(addr uint32, reg *byte, length int) error
	// ReadToPipe reads data from the storage directly into the specified
	// pipe, returning the number of bytes actually delivered. The transfer
	// may end early when the pipe stalls for longer than the timeout.
	ReadToPipe(pipe io.Writer, addr uint32, length int, timeout time.Duration) (int, error)

	// Write programs data into the storage, clearing bits as needed.
	Write(addr uint32, data []byte) error
	// WriteFromPipe programs data read from the specified pipe, returning
	// the number of bytes actually written.
	WriteFromPipe(pipe io.Reader, addr uint32, length int, timeout time.Duration) (int, error)
	// Fill programs a range of the storage with the specified value.
	Fill(addr uint32, value byte, length int) error

	// IsAll checks if a range of the storage is filled with the specified value.
	IsAll(addr uint32, value byte, length int) (bool, error)
	// IsEmpty checks if a range of the storage is erased (all 0xFF).
	IsEmpty(addr uint32, length int) (bool, error)

	// Erase erases at least the specified range of the storage, rounding it
	// out to sector boundaries. It reports false if any sector refused to
	// erase.
	Erase(addr uint32, length uint32) (bool, error)
	// EraseFirst erases one sector from the front of the specified range and
	// returns the address of the next sector to be erased, allowing the
	// caller to erase a large range cooperatively. The returned address
	// equals addr when nothing was erased.
	EraseFirst(addr uint32, length uint32) (uint32, error)

	// Sync returns once all outstanding program operations have drained.
	Sync() error
}

// Geometry describes the size and sector layout of a ByteStorage. Sector
// sizes are always powers of two evenly dividing the total size.
type Geometry struct {
	size       uint32
	sectorMask uint32
}

// NewGeometry returns the geometry for a storage of the given total size and
// sector size.
func NewGeometry(size, sectorSize uint32) Geometry {
	if bits.OnesCount32(sectorSize) != 1 {
		panic("sanity check failed: sector size is not a power of two")
	}
	if size == 0 || size&(sectorSize-1) != 0 {
		panic("sanity check failed: storage size is not a multiple of sector size")
	}
	return Geometry{size: size, sectorMask: sectorSize - 1}
}

// Size returns the size of the storage in bytes.
func (g Geometry) Size() uint32 { return g.size }

// SectorSize returns the sector size in bytes.
func (g Geometry) SectorSize() uint32 { return g.sectorMask + 1 }

// SectorMask returns the mask covering the offset bits within a sector.
func (g Geometry) SectorMask() uint32 { return g.sectorMask }

// SectorCount returns the number of sectors in the storage.
func (g Geometry) SectorCount() uint32 { return g.size / g.SectorSize() }

// SectorAddress returns the address of the beginning of the sector containing addr.
func (g Geometry) SectorAddress(addr uint32) uint32 { return addr &^ g.sectorMask }

// IsSameSector checks if the two addresses are in the same sector.
func (g Geometry) IsSameSector(addr1, addr2 uint32) bool {
	return (addr1^addr2)&^g.sectorMask == 0
}

// SectorRemaining returns the number of bytes from addr to the end of its sector.
func (g Geometry) SectorRemaining(addr uint32) uint32 { return (^addr & g.sectorMask) + 1 }
