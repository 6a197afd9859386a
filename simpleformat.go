package storage

import (
	"encoding/binary"

	"github.com/NebulousLabs/errors"
)

// SimpleVariableFormat is a journal format holding variable-length records.
// Every sector starts with an 8-byte header of a caller-supplied magic and
// the sector sequence, both little-endian 32-bit. Records follow as a 16-bit
// size field and the payload:
//
//	size == 0xFFFF  => empty slot, marks the end of the sector
//	size & 0x8000   => unfinished or bad record
//	size & 0x7FFF   => payload length
//
// A record is allocated with the top bit of its size field set and committed
// by programming 0x7FFF over the field: AND semantics clear the top bit alone
// and preserve the length bits, making the commit a single atomic program
// step.
type SimpleVariableFormat struct {
	magic uint32
}

// NewSimpleVariableFormat returns a format stamping sectors with the given
// magic. Journals sharing a storage must use distinct magics.
func NewSimpleVariableFormat(magic uint32) *SimpleVariableFormat {
	return &SimpleVariableFormat{magic: magic}
}

func isAllOnes(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// ScanSector implements JournalFormat.
func (f *SimpleVariableFormat) ScanSector(sector Span, info *SectorInfo, following *SectorInfo) error {
	var hdr [pageHeaderSize]byte
	if _, err := sector.Read(0, hdr[:]); err != nil {
		return errors.Extend(err, errors.New("sector header read failed"))
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	sequence := binary.LittleEndian.Uint32(hdr[4:8])

	info.FirstRecord = pageHeaderSize
	info.FixedRecordSize = 0
	info.Sequence = sequence
	switch {
	case isAllOnes(hdr[:]):
		info.State = SectorEmpty
	case magic != f.magic:
		info.State = SectorBad
	case following != nil && sequence+1 == following.Sequence:
		info.State = SectorValidPreceding
	default:
		info.State = SectorValid
	}
	return nil
}

// ScanRecord implements JournalFormat.
func (f *SimpleVariableFormat) ScanRecord(sectorRemaining Span, sectorInfo *SectorInfo, info *RecordInfo) (int, error) {
	var hdr [recordHeaderSize]byte
	if _, err := sectorRemaining.Read(0, hdr[:]); err != nil {
		return 0, errors.Extend(err, errors.New("record header read failed"))
	}
	size := binary.LittleEndian.Uint16(hdr[:])

	info.Payload = size & maxRecordPayload
	info.NextRecord = info.Payload + recordHeaderSize
	switch {
	case size == emptyRecordWord:
		info.State = RecordEmpty
	case size&recordUnfinishedBit != 0:
		info.State = RecordBad
	default:
		info.State = RecordValid
	}
	return recordHeaderSize, nil
}

// InitSector implements JournalFormat. The sequence is written before the
// magic so a sector whose header programming was interrupted scans as bad,
// never as a valid sector with a bogus sequence.
func (f *SimpleVariableFormat) InitSector(sector Span, info *SectorInfo) error {
	sequence := uint32(1)
	if info.IsValid() {
		sequence = info.Sequence + 1
	}
	info.Sequence = sequence

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], sequence)
	if _, err := sector.Write(4, buf[:]); err != nil {
		return errors.Extend(err, errors.New("sector sequence write failed"))
	}
	binary.LittleEndian.PutUint32(buf[:], f.magic)
	if _, err := sector.Write(0, buf[:]); err != nil {
		return errors.Extend(err, errors.New("sector magic write failed"))
	}

	info.FirstRecord = pageHeaderSize
	info.FixedRecordSize = 0
	info.State = SectorValid
	return nil
}

// InitRecord implements JournalFormat.
func (f *SimpleVariableFormat) InitRecord(sectorRemaining Span, info *RecordInfo, payload int) (int, error) {
	// limit the payload to the theoretical maximum
	size := payload
	if size > maxRecordPayload {
		size = maxRecordPayload
	}

	geo := sectorRemaining.Storage().Geometry()
	if sectorRemaining.Offset()&geo.SectorMask() == pageHeaderSize {
		// record starts right after the page header - further limit the
		// payload so an oversize request still fits an empty sector
		if max := sectorRemaining.Size() - recordHeaderSize; size > max {
			size = max
		}
	}

	if recordHeaderSize+size > sectorRemaining.Size() {
		// sector is full, record won't fit
		info.State = RecordBad
		return 0, nil
	}

	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(size)|recordUnfinishedBit)
	if _, err := sectorRemaining.Write(0, hdr[:]); err != nil {
		return 0, errors.Extend(err, errors.New("record header write failed"))
	}

	info.Payload = uint16(size)
	info.NextRecord = recordHeaderSize + uint16(size)
	info.State = RecordValid
	return recordHeaderSize, nil
}

// CommitRecord implements JournalFormat. The commit is a single 16-bit
// program of 0x7FFF over the size field, clearing the unfinished bit alone.
func (f *SimpleVariableFormat) CommitRecord(payload Span) error {
	st := payload.Storage()
	if !st.Geometry().IsSameSector(payload.Offset(), payload.Offset()-recordHeaderSize) {
		panic("sanity check failed: record header crosses a sector boundary")
	}
	var word [recordHeaderSize]byte
	binary.LittleEndian.PutUint16(word[:], maxRecordPayload)
	return st.Write(payload.Offset()-recordHeaderSize, word[:])
}
