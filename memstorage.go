package storage

import (
	"io"
	"time"
)

// MemStorage simulates an erase-before-write medium in memory. It honours the
// full ByteStorage contract: erased bytes read as 0xFF, programming ANDs data
// into the existing content with 256-byte page granularity, and erasing works
// on whole sectors.
//
// The simulator can also cut power: after SetWriteLimit, program operations
// beyond the budget are silently dropped, which is how the tests model a host
// dying mid-write. Corrupt flips bits directly, bypassing program semantics.
type MemStorage struct {
	geo  Geometry
	data []byte

	// writeLimit caps the number of page program operations accepted before
	// the storage starts dropping them. Negative means no limit.
	writeLimit int
	programs   int
}

// NewMemStorage returns an erased in-memory storage of the given geometry.
func NewMemStorage(size, sectorSize uint32) *MemStorage {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &MemStorage{
		geo:        NewGeometry(size, sectorSize),
		data:       data,
		writeLimit: -1,
	}
}

// Geometry implements ByteStorage.
func (m *MemStorage) Geometry() Geometry { return m.geo }

// SetWriteLimit makes the storage drop every program operation after the
// next n, simulating a power loss. A negative n removes the limit.
func (m *MemStorage) SetWriteLimit(n int) {
	m.writeLimit = n
	m.programs = 0
}

// Programs returns the number of page program operations performed so far,
// including dropped ones.
func (m *MemStorage) Programs() int { return m.programs }

// LostPower reports whether the write limit has been exhausted, i.e. at
// least one program operation has been dropped.
func (m *MemStorage) LostPower() bool {
	return m.writeLimit >= 0 && m.programs > m.writeLimit
}

// Corrupt XORs mask into the byte at addr, bypassing program semantics.
func (m *MemStorage) Corrupt(addr uint32, mask byte) {
	m.checkRange(addr, 1)
	m.data[addr] ^= mask
}

// Clone returns an independent copy of the storage content with no write
// limit set.
func (m *MemStorage) Clone() *MemStorage {
	c := &MemStorage{
		geo:        m.geo,
		data:       make([]byte, len(m.data)),
		writeLimit: -1,
	}
	copy(c.data, m.data)
	return c
}

// Bytes returns the backing buffer. The caller must not hold on to it across
// storage operations.
func (m *MemStorage) Bytes() []byte { return m.data }

func (m *MemStorage) checkRange(addr uint32, length int) {
	if addr > m.geo.Size() || addr+uint32(length) > m.geo.Size() {
		panic("sanity check failed: access outside storage bounds")
	}
}

// pageRemaining returns the number of bytes from addr to the end of its
// program page.
func pageRemaining(addr uint32) int {
	return int(^addr&(programPageSize-1)) + 1
}

// program ANDs one page-bounded chunk into the medium, honouring the write
// limit.
func (m *MemStorage) program(addr uint32, data []byte) {
	m.programs++
	if m.writeLimit >= 0 && m.programs > m.writeLimit {
		return
	}
	for i, b := range data {
		m.data[addr+uint32(i)] &= b
	}
}

// Read implements ByteStorage.
func (m *MemStorage) Read(addr uint32, buf []byte) error {
	m.checkRange(addr, len(buf))
	copy(buf, m.data[addr:])
	return nil
}

// ReadToRegister implements ByteStorage.
func (m *MemStorage) ReadToRegister(addr uint32, reg *byte, length int) error {
	m.checkRange(addr, length)
	for i := 0; i < length; i++ {
		*reg = m.data[addr+uint32(i)]
	}
	return nil
}

// ReadToPipe implements ByteStorage. The simulated medium never stalls, so
// the timeout is unused; the transfer still ends early on pipe backpressure
// errors, reporting the bytes delivered so far.
func (m *MemStorage) ReadToPipe(pipe io.Writer, addr uint32, length int, timeout time.Duration) (int, error) {
	m.checkRange(addr, length)
	read := 0
	for read < length {
		blk := length - read
		if blk > programPageSize {
			blk = programPageSize
		}
		n, err := pipe.Write(m.data[addr+uint32(read) : addr+uint32(read)+uint32(blk)])
		read += n
		if err != nil || n < blk {
			return read, err
		}
	}
	return read, nil
}

// Write implements ByteStorage.
func (m *MemStorage) Write(addr uint32, data []byte) error {
	m.checkRange(addr, len(data))
	for written := 0; written < len(data); {
		blk := pageRemaining(addr + uint32(written))
		if rest := len(data) - written; blk > rest {
			blk = rest
		}
		m.program(addr+uint32(written), data[written:written+blk])
		written += blk
	}
	return nil
}

// WriteFromPipe implements ByteStorage. The transfer ends early when the
// pipe runs dry, reporting the bytes written so far.
func (m *MemStorage) WriteFromPipe(pipe io.Reader, addr uint32, length int, timeout time.Duration) (int, error) {
	m.checkRange(addr, length)
	buf := make([]byte, programPageSize)
	written := 0
	for written < length {
		blk := length - written
		if blk > programPageSize {
			blk = programPageSize
		}
		n, err := pipe.Read(buf[:blk])
		if n > 0 {
			if werr := m.Write(addr+uint32(written), buf[:n]); werr != nil {
				return written, werr
			}
			written += n
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Fill implements ByteStorage.
func (m *MemStorage) Fill(addr uint32, value byte, length int) error {
	m.checkRange(addr, length)
	for written := 0; written < length; {
		blk := pageRemaining(addr + uint32(written))
		if rest := length - written; blk > rest {
			blk = rest
		}
		m.programs++
		if !(m.writeLimit >= 0 && m.programs > m.writeLimit) {
			for i := 0; i < blk; i++ {
				m.data[addr+uint32(written)+uint32(i)] &= value
			}
		}
		written += blk
	}
	return nil
}

// IsAll implements ByteStorage.
func (m *MemStorage) IsAll(addr uint32, value byte, length int) (bool, error) {
	m.checkRange(addr, length)
	for i := 0; i < length; i++ {
		if m.data[addr+uint32(i)] != value {
			return false, nil
		}
	}
	return true, nil
}

// IsEmpty implements ByteStorage.
func (m *MemStorage) IsEmpty(addr uint32, length int) (bool, error) {
	return m.IsAll(addr, 0xFF, length)
}

// Erase implements ByteStorage.
func (m *MemStorage) Erase(addr uint32, length uint32) (bool, error) {
	m.checkRange(addr, int(length))
	mask := m.geo.SectorMask()
	start := addr &^ mask
	end := (addr + length + mask) &^ mask

	for start < end {
		next, err := m.EraseFirst(start, end-start)
		if err != nil {
			return false, err
		}
		if next == start {
			// failed to erase anything
			return false, nil
		}
		start = next
	}
	return true, nil
}

// EraseFirst implements ByteStorage. The erase counts as one program
// operation against the write limit.
func (m *MemStorage) EraseFirst(addr uint32, length uint32) (uint32, error) {
	m.checkRange(addr, int(length))
	mask := m.geo.SectorMask()
	start := addr &^ mask
	end := (addr + length + mask) &^ mask

	if start+m.geo.SectorSize() > end {
		return addr, nil
	}

	m.programs++
	if !(m.writeLimit >= 0 && m.programs > m.writeLimit) {
		for i := start; i < start+m.geo.SectorSize(); i++ {
			m.data[i] = 0xFF
		}
	}
	return start + m.geo.SectorSize(), nil
}

// Sync implements ByteStorage. The simulated medium has no write queue.
func (m *MemStorage) Sync() error { return nil }
