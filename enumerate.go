package storage

import "github.com/NebulousLabs/errors"

// Sector identifies a journal sector by its byte address.
type Sector uint32

// SectorEnumerator walks the valid sectors between the oldest and the newest
// one. It must be reset with EnumerateSectors before the first NextSector or
// PreviousSector call.
type SectorEnumerator struct {
	s uint32
}

// IsValid reports whether the enumerator is positioned on a sector.
func (e *SectorEnumerator) IsValid() bool { return e.s != invalidAddr }

// Sector returns the sector the enumerator is positioned on.
func (e *SectorEnumerator) Sector() Sector { return Sector(e.s) }

// EnumerateSectors resets the enumerator so the next NextSector call yields
// the oldest sector and the next PreviousSector call yields the newest.
func (j *Journal) EnumerateSectors(e *SectorEnumerator) { e.s = invalidAddr }

// NextSector moves the enumerator to the next valid sector in ring order,
// reporting false once the newest sector has been yielded.
func (j *Journal) NextSector(e *SectorEnumerator) (bool, error) {
	for {
		if e.s == j.lastSector {
			e.s = invalidAddr
			return false, nil
		}

		if !e.IsValid() {
			e.s = j.firstSector
		} else {
			e.s = j.nextSector(e.s)
		}

		var si SectorInfo
		if err := j.format.ScanSector(SectorSpan(j.storage, e.s), &si, nil); err != nil {
			return false, errors.Extend(err, errors.New("sector scan failed"))
		}
		if si.IsValid() {
			return true, nil
		}
	}
}

// PreviousSector moves the enumerator to the previous valid sector in ring
// order, reporting false once the oldest sector has been yielded.
func (j *Journal) PreviousSector(e *SectorEnumerator) (bool, error) {
	for {
		if e.s == j.firstSector {
			e.s = invalidAddr
			return false, nil
		}

		if !e.IsValid() {
			e.s = j.lastSector
		} else {
			e.s = j.previousSector(e.s)
		}

		var si SectorInfo
		if err := j.format.ScanSector(SectorSpan(j.storage, e.s), &si, nil); err != nil {
			return false, errors.Extend(err, errors.New("sector scan failed"))
		}
		if si.IsValid() {
			return true, nil
		}
	}
}

// ReadSectorHeader reads part of the sector the enumerator is positioned on,
// starting at offset from the sector start. It returns the number of bytes
// read, clamped to the sector.
func (j *Journal) ReadSectorHeader(e *SectorEnumerator, buf []byte, offset int) (int, error) {
	if !e.IsValid() || offset >= int(j.geo.SectorSize()) {
		return 0, nil
	}
	if n := int(j.geo.SectorSize()) - offset; len(buf) > n {
		buf = buf[:n]
	}
	if err := j.storage.Read(e.s+uint32(offset), buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// RecordEnumerator walks the records of one sector. It must be reset with
// EnumerateRecords before the first NextRecord call.
type RecordEnumerator struct {
	// r is the current position: the sector start before the first
	// NextRecord call, the current record's payload afterwards.
	r uint32
	// rNext is where the following record header is expected. rNext == r
	// means the enumeration stopped on a free slot; rNext == r-1 marks a
	// non-skippable bad record. Either way the sector yields no more
	// records.
	rNext uint32
	// len is the payload length of the current record.
	len uint32
	si  SectorInfo
}

// IsEmpty reports whether the enumerator stopped on a free slot, i.e. the
// sector still has room for records after the last one yielded.
func (e *RecordEnumerator) IsEmpty() bool { return e.r == e.rNext }

// Address returns the storage address of the current record payload.
func (e *RecordEnumerator) Address() uint32 { return e.r }

// Length returns the payload length of the current record.
func (e *RecordEnumerator) Length() int { return int(e.len) }

// EnumerateRecords resets the enumerator to the start of the given sector.
func (j *Journal) EnumerateRecords(e *RecordEnumerator, sector Sector) {
	*e = RecordEnumerator{r: uint32(sector), rNext: uint32(sector)}
}

// NextRecord moves the enumerator to the next valid record of its sector and
// returns the record's payload length. It returns 0 once the sector is
// exhausted, whether by a free slot, the sector end, or a record that cannot
// be skipped.
func (j *Journal) NextRecord(e *RecordEnumerator) (int, error) {
	if e.r == e.rNext && e.si.IsBad() {
		// we need the sector header before enumerating
		if err := j.format.ScanSector(SectorSpan(j.storage, e.r), &e.si, nil); err != nil {
			return 0, errors.Extend(err, errors.New("sector scan failed"))
		}
		e.rNext = e.r + uint32(e.si.FirstRecord)
	}

	if !e.si.IsValid() {
		return 0, nil
	}

	for j.geo.IsSameSector(e.r, e.rNext) {
		e.r = e.rNext
		var ri RecordInfo
		payloadOffset, err := j.format.ScanRecord(RestOfSector(j.storage, e.r), &e.si, &ri)
		if err != nil {
			return 0, errors.Extend(err, errors.New("record scan failed"))
		}
		if ri.IsEmpty() {
			return 0, nil
		}
		e.rNext = e.r + uint32(ri.NextRecord)
		if ri.IsBad() {
			if e.rNext != e.r {
				// skip over the bad record
				continue
			}
			// cannot continue, unable to skip
			e.rNext = e.r - 1
			return 0, nil
		}

		// move the position to the payload, return the payload length
		end := j.geo.SectorAddress(e.r) + j.geo.SectorSize()
		e.r += uint32(payloadOffset)
		e.len = uint32(ri.Payload)
		if e.r >= end {
			// a corrupted length must not reach outside the sector
			e.len = 0
		} else if rem := end - e.r; e.len > rem {
			e.len = rem
		}
		return int(e.len), nil
	}

	if e.rNext > j.geo.SectorAddress(e.r)+j.geo.SectorSize() {
		j.logf("next record pointer went beyond sector end: %#x", e.rNext)
	}
	return 0, nil
}

// ReadRecord reads part of the record the enumerator is positioned on,
// starting at offset into the payload. It returns the number of bytes read,
// clamped to the payload length.
func (j *Journal) ReadRecord(e *RecordEnumerator, buf []byte, offset int) (int, error) {
	if !e.si.IsValid() || offset >= int(e.len) {
		return 0, nil
	}
	if n := int(e.len) - offset; len(buf) > n {
		buf = buf[:n]
	}
	if err := j.storage.Read(e.r+uint32(offset), buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}
