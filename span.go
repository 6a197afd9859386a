package storage

import (
	"io"
	"time"
)

// Span is a view of a sub-range of a ByteStorage. All operations delegate to
// the underlying storage with the span's base address added and the length
// clamped to the span, so a caller can never read or write past it. The span
// borrows the storage; it must not outlive it.
type Span struct {
	storage ByteStorage
	addr    uint32
	length  int
}

// NewSpan returns the specified sub-span of the storage. The range must lie
// within the storage.
func NewSpan(s ByteStorage, addr uint32, length int) Span {
	size := s.Geometry().Size()
	if addr > size || addr+uint32(length) > size {
		panic("sanity check failed: span outside storage bounds")
	}
	return Span{storage: s, addr: addr, length: length}
}

// SectorSpan returns the span covering the whole sector containing addr.
func SectorSpan(s ByteStorage, addr uint32) Span {
	g := s.Geometry()
	if addr >= g.Size() {
		panic("sanity check failed: sector address outside storage bounds")
	}
	return Span{storage: s, addr: g.SectorAddress(addr), length: int(g.SectorSize())}
}

// RestOfSector returns the span from addr to the end of its sector.
func RestOfSector(s ByteStorage, addr uint32) Span {
	g := s.Geometry()
	if addr >= g.Size() {
		panic("sanity check failed: sector address outside storage bounds")
	}
	return Span{storage: s, addr: addr, length: int(g.SectorRemaining(addr))}
}

// Size returns the size of the span in bytes.
func (sp Span) Size() int { return sp.length }

// Offset returns the address of the span within its ByteStorage.
func (sp Span) Offset() uint32 { return sp.addr }

// Storage returns the ByteStorage in which this span is located.
func (sp Span) Storage() ByteStorage { return sp.storage }

// limit clamps a length at the given offset so the operation stays inside
// the span.
func (sp Span) limit(offset, length int) int {
	remaining := sp.length - offset
	if remaining < 0 {
		return 0
	}
	if length > remaining {
		return remaining
	}
	return length
}

// Read reads data from the span into buf, returning the number of bytes read.
func (sp Span) Read(offset int, buf []byte) (int, error) {
	n := sp.limit(offset, len(buf))
	if n == 0 {
		return 0, nil
	}
	return n, sp.storage.Read(sp.addr+uint32(offset), buf[:n])
}

// ReadToRegister streams bytes from the span into the specified memory location.
func (sp Span) ReadToRegister(offset int, reg *byte, length int) error {
	return sp.storage.ReadToRegister(sp.addr+uint32(offset), reg, sp.limit(offset, length))
}

// ReadToPipe reads data from the span directly into the specified pipe.
func (sp Span) ReadToPipe(pipe io.Writer, offset, length int, timeout time.Duration) (int, error) {
	return sp.storage.ReadToPipe(pipe, sp.addr+uint32(offset), sp.limit(offset, length), timeout)
}

// Write programs data into the span, returning the number of bytes written.
func (sp Span) Write(offset int, data []byte) (int, error) {
	n := sp.limit(offset, len(data))
	if n == 0 {
		return 0, nil
	}
	return n, sp.storage.Write(sp.addr+uint32(offset), data[:n])
}

// WriteFromPipe programs data read from the specified pipe into the span.
func (sp Span) WriteFromPipe(pipe io.Reader, offset, length int, timeout time.Duration) (int, error) {
	return sp.storage.WriteFromPipe(pipe, sp.addr+uint32(offset), sp.limit(offset, length), timeout)
}

// Fill programs a range of the span with the specified value.
func (sp Span) Fill(offset int, value byte, length int) error {
	return sp.storage.Fill(sp.addr+uint32(offset), value, sp.limit(offset, length))
}
