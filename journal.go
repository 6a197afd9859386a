package storage

import (
	"log"

	"github.com/NebulousLabs/errors"
)

// Journal is a simple ring journal implemented on top of a ByteStorage using
// a pluggable JournalFormat. It owns neither: both are borrowed for the
// lifetime of the journal.
//
// The journal assumes a single writer. Enumeration may run interleaved with
// writes from the same goroutine, but methods must not be called
// concurrently.
type Journal struct {
	storage ByteStorage
	format  JournalFormat
	geo     Geometry
	log     *log.Logger

	// last is the SectorInfo of the current last sector.
	last SectorInfo

	// firstSector and lastSector are the byte addresses of the oldest and
	// newest sectors containing valid data. When the journal is empty both
	// are 0 and no records exist.
	firstSector, lastSector uint32

	// freeOffset is the offset from lastSector where the next record header
	// may be written. 0 and sectorSize both mean the journal has to advance
	// to a new sector before writing.
	freeOffset uint32

	// maxRecord is the largest payload the last BeginWrite attempt left
	// room for in the current sector.
	maxRecord uint32
}

// NewJournal returns a journal over the given storage and format. Scan must
// be called to recover the journal state before anything else.
func NewJournal(storage ByteStorage, format JournalFormat) *Journal {
	return &Journal{
		storage: storage,
		format:  format,
		geo:     storage.Geometry(),
	}
}

// SetLogger directs the journal's diagnostics to l. A nil logger silences
// them, which is the default.
func (j *Journal) SetLogger(l *log.Logger) { j.log = l }

func (j *Journal) logf(format string, args ...interface{}) {
	if j.log != nil {
		j.log.Printf(format, args...)
	}
}

// seqNewer reports whether sequence a is newer than b, using signed-difference
// comparison so the ordering survives the 32-bit sequence wrap.
func seqNewer(a, b uint32) bool { return int32(a-b) > 0 }

// previousSector returns the address of the previous sector in the ring.
func (j *Journal) previousSector(addr uint32) uint32 {
	if addr == 0 {
		addr = j.geo.Size()
	}
	return addr - j.geo.SectorSize()
}

// nextSector returns the address of the next sector in the ring.
func (j *Journal) nextSector(addr uint32) uint32 {
	addr += j.geo.SectorSize()
	if addr == j.geo.Size() {
		return 0
	}
	return addr
}

// LastSectorAddress returns the address of the last written sector.
func (j *Journal) LastSectorAddress() uint32 { return j.lastSector }

// LastSector returns the last written sector information.
func (j *Journal) LastSector() SectorInfo { return j.last }

// MaximumRecord returns the largest payload the last BeginWrite attempt left
// room for without advancing to a new sector.
func (j *Journal) MaximumRecord() int { return int(j.maxRecord) }

// Scan recovers the journal state by scanning the medium, determining the
// oldest and newest valid sectors and the position where the next record may
// be written. It must be called once before writing or enumerating, and again
// after anything else touches the underlying storage.
func (j *Journal) Scan() error {
	j.logf("scanning storage sectors")
	j.lastSector = invalidAddr

	// First search for the last written sector by sequence. The first valid
	// sector found anchors the comparison, disambiguating the pathological
	// case of the sequence wrapping multiple times within the ring after
	// corruption or a bug.
	var siLast SectorInfo
	var baseSeq uint32
	var freeSectors, badSectors uint32
	for addr := uint32(0); addr < j.geo.Size(); addr += j.geo.SectorSize() {
		var si SectorInfo
		if err := j.format.ScanSector(SectorSpan(j.storage, addr), &si, nil); err != nil {
			return errors.Extend(err, errors.New("sector scan failed"))
		}
		if si.IsEmpty() {
			freeSectors++
			continue
		}
		if !si.IsValid() {
			badSectors++
			continue
		}
		if j.lastSector == invalidAddr {
			baseSeq = si.Sequence
		} else if !(seqNewer(si.Sequence, siLast.Sequence) && seqNewer(si.Sequence, baseSeq)) {
			// older than what we already have
			continue
		}
		j.lastSector = addr
		siLast = si
	}

	j.logf("found %d free sectors out of %d (%d bad sectors)",
		freeSectors, j.geo.SectorCount()-badSectors, badSectors)

	if j.lastSector == invalidAddr {
		j.logf("storage is empty")
		j.firstSector = 0
		j.lastSector = 0
		j.freeOffset = 0
		j.last = SectorInfo{}
		return nil
	}

	j.logf("highest sequence sector found @ %#x, seq %d", j.lastSector, siLast.Sequence)

	// Find the end of the newest sector by enumerating its records.
	var re RecordEnumerator
	j.EnumerateRecords(&re, Sector(j.lastSector))
	for {
		n, err := j.NextRecord(&re)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}

	if re.IsEmpty() {
		j.logf("last sector still has free space @ %#x, will be used for new records", re.r)
		j.freeOffset = re.r - j.lastSector
	} else {
		j.logf("last sector is full or corrupted @ %#x", re.r)
		j.freeOffset = j.geo.SectorSize()
	}

	// Now move back as far as the sequence numbers are contiguous.
	siFirst := siLast
	j.firstSector = j.lastSector
	for addr := j.previousSector(j.lastSector); addr != j.lastSector; addr = j.previousSector(addr) {
		var si SectorInfo
		if err := j.format.ScanSector(SectorSpan(j.storage, addr), &si, &siFirst); err != nil {
			return errors.Extend(err, errors.New("sector scan failed"))
		}
		if si.IsPreceding() {
			j.firstSector = addr
			siFirst = si
		} else if si.IsValid() {
			j.logf("found unexpected sector sequence @ %#x - %d", addr, si.Sequence)
			break
		}
	}

	j.logf("stored sequence %d - %d in sectors %#x - %#x",
		siFirst.Sequence, siLast.Sequence, j.firstSector, j.lastSector)
	j.last = siLast
	return nil
}

// RecordWriter is the reserved but not yet committed payload area of a
// record. The payload is programmed through the embedded span; EndWrite then
// commits the record. A writer must not outlive the next BeginWrite or
// sector advance.
type RecordWriter struct {
	Span
}

// BeginWrite reserves a record of up to length payload bytes, advancing to a
// new sector as needed, and binds writer to the reserved payload area. The
// granted payload may be shorter than requested when the format or the
// remaining sector space limits it. It reports false only if the ring cannot
// make progress at all, i.e. every sector fails to initialize.
func (j *Journal) BeginWrite(writer *RecordWriter, length int) (bool, error) {
	for {
		if j.freeOffset == 0 || j.freeOffset >= j.geo.SectorSize() {
			ok, err := j.newSector()
			if err != nil || !ok {
				return false, err
			}
			if j.freeOffset == 0 || j.freeOffset >= j.geo.SectorSize() {
				panic("sanity check failed: new sector has no record space")
			}
		}

		var ri RecordInfo
		payloadOffset, err := j.format.InitRecord(RestOfSector(j.storage, j.lastSector+j.freeOffset), &ri, length)
		if err != nil {
			return false, errors.Extend(err, errors.New("record allocation failed"))
		}
		j.freeOffset += uint32(ri.NextRecord)
		if m := int(j.geo.SectorSize()) - int(j.freeOffset) - payloadOffset; m > 0 {
			j.maxRecord = uint32(m)
		} else {
			j.maxRecord = 0
		}
		if ri.IsValid() {
			writer.Span = NewSpan(j.storage,
				j.lastSector+j.freeOffset-uint32(ri.NextRecord)+uint32(payloadOffset),
				int(ri.Payload))
			return true, nil
		}

		if !(ri.IsBad() && ri.NextRecord != 0) {
			// cannot try the next record, have to move to the next sector
			j.freeOffset = j.geo.SectorSize()
		}
	}
}

// EndWrite commits the record reserved by BeginWrite. The writer is invalid
// afterwards.
func (j *Journal) EndWrite(writer *RecordWriter) error {
	return j.format.CommitRecord(writer.Span)
}

// Write appends a record containing data to the journal in one step. It
// reports false when the ring cannot make progress. The payload is silently
// truncated if it exceeds what the format can grant; use BeginWrite directly
// when that matters.
func (j *Journal) Write(data []byte) (bool, error) {
	var rw RecordWriter
	ok, err := j.BeginWrite(&rw, len(data))
	if err != nil || !ok {
		return false, err
	}
	if _, err := rw.Write(0, data); err != nil {
		return false, errors.Extend(err, errors.New("record payload write failed"))
	}
	if err := j.EndWrite(&rw); err != nil {
		return false, errors.Extend(err, errors.New("record commit failed"))
	}
	return true, nil
}

// CloseSector forces the next write to start in a new sector.
func (j *Journal) CloseSector() error {
	if j.freeOffset != 0 {
		return j.advanceSector()
	}
	return nil
}

// advanceSector moves lastSector to its ring successor, adjusting firstSector
// when it is about to be overwritten.
func (j *Journal) advanceSector() error {
	j.lastSector = j.nextSector(j.lastSector)
	j.freeOffset = 0
	j.logf("advancing to sector %#x", j.lastSector)

	if j.lastSector != j.firstSector {
		return nil
	}

	// The first sector is about to be overwritten; move firstSector to the
	// next valid sector after it.
	for addr := j.nextSector(j.firstSector); addr != j.lastSector; addr = j.nextSector(addr) {
		var si SectorInfo
		if err := j.format.ScanSector(SectorSpan(j.storage, addr), &si, nil); err != nil {
			return errors.Extend(err, errors.New("sector scan failed"))
		}
		if si.IsValid() {
			j.firstSector = addr
			j.logf("moved first sector to %#x - %d, it is going to be overwritten", addr, si.Sequence)
			return nil
		}
	}

	// The ring held only one valid sector, keep firstSector == lastSector.
	j.logf("no valid first sector, keeping at %#x", j.firstSector)
	return nil
}

// newSector makes lastSector a freshly initialized sector with room for
// records, erasing and skipping sectors as needed. It reports false when no
// sector in the ring could be initialized.
func (j *Journal) newSector() (bool, error) {
	if j.freeOffset != 0 {
		if err := j.advanceSector(); err != nil {
			return false, err
		}
	}

	// A permanently bad sector keeps being skipped; give up after a full lap
	// so a dead medium cannot stall the writer forever.
	for attempts := j.geo.SectorCount(); attempts > 0; attempts-- {
		empty, err := j.storage.IsEmpty(j.lastSector, int(j.geo.SectorSize()))
		if err != nil {
			return false, err
		}
		if !empty {
			j.logf("erasing sector @ %#x", j.lastSector)
			if _, err := j.storage.Erase(j.lastSector, j.geo.SectorSize()); err != nil {
				return false, err
			}
		}

		if err := j.format.InitSector(SectorSpan(j.storage, j.lastSector), &j.last); err != nil {
			return false, errors.Extend(err, errors.New("sector init failed"))
		}
		if !j.last.IsValid() {
			j.logf("failed to initialize sector %#x", j.lastSector)
			if err := j.advanceSector(); err != nil {
				return false, err
			}
			continue
		}

		j.freeOffset = uint32(j.last.FirstRecord)
		j.logf("successfully initialized new sector @ %#x - %d", j.lastSector, j.last.Sequence)
		return true, nil
	}

	j.logf("no sector in the ring could be initialized")
	return false, nil
}
