package storage

// SectorState is the result of scanning a sector.
type SectorState uint8

const (
	// SectorBad marks a sector whose content is corrupted or foreign.
	SectorBad SectorState = iota
	// SectorEmpty marks a fully erased sector.
	SectorEmpty
	// SectorValid marks a sector containing valid journal data.
	SectorValid
	// SectorValidPreceding marks a valid sector whose sequence immediately
	// precedes the sector it was compared against during the scan.
	SectorValidPreceding
)

// SectorInfo is the vocabulary shared between a JournalFormat and the
// journal engine when describing a sector.
type SectorInfo struct {
	// Sequence is the monotone per-sector sequence number written when the
	// sector was initialized.
	Sequence uint32
	// FirstRecord is the byte offset from the sector start to the first
	// record header.
	FirstRecord uint16
	// FixedRecordSize is 0 for sectors holding variable-length records,
	// otherwise the fixed record stride.
	FixedRecordSize uint8
	// State is the scan result.
	State SectorState
}

// IsBad reports whether the sector is corrupted.
func (si *SectorInfo) IsBad() bool { return si.State == SectorBad }

// IsEmpty reports whether the sector is fully erased.
func (si *SectorInfo) IsEmpty() bool { return si.State == SectorEmpty }

// IsValid reports whether the sector contains valid journal data.
func (si *SectorInfo) IsValid() bool { return si.State >= SectorValid }

// IsPreceding reports whether the sector immediately precedes the sector it
// was compared against.
func (si *SectorInfo) IsPreceding() bool { return si.State == SectorValidPreceding }

// RecordState is the result of scanning a record.
type RecordState uint8

const (
	// RecordBad marks a corrupted or unfinished record.
	RecordBad RecordState = iota
	// RecordEmpty marks a free slot, ending the used part of a sector.
	RecordEmpty
	// RecordValid marks a committed record.
	RecordValid
)

// RecordInfo is the vocabulary shared between a JournalFormat and the
// journal engine when describing a record.
type RecordInfo struct {
	// Payload is the record payload length in bytes.
	Payload uint16
	// NextRecord is the offset of the next record header, measured from the
	// start of the rest-of-sector span the record was scanned in.
	NextRecord uint16
	// State is the scan result.
	State RecordState
}

// IsBad reports whether the record is corrupted or unfinished.
func (ri *RecordInfo) IsBad() bool { return ri.State == RecordBad }

// IsEmpty reports whether the slot is free.
func (ri *RecordInfo) IsEmpty() bool { return ri.State == RecordEmpty }

// IsValid reports whether the record is committed.
func (ri *RecordInfo) IsValid() bool { return ri.State == RecordValid }

// JournalFormat is the pluggable sector and record layout used by a Journal.
// It stamps fresh sectors and records, decides validity during recovery, and
// supplies payload offsets. SectorInfo and RecordInfo are the only vocabulary
// shared with the engine; the format's header layout stays private.
type JournalFormat interface {
	// ScanSector determines the state of a sector. When following is
	// non-nil, the sector must be reported as SectorValidPreceding if its
	// sequence immediately precedes following.Sequence. On a valid sector
	// the Sequence, FirstRecord and FixedRecordSize fields of info must be
	// filled in as well.
	ScanSector(sector Span, info *SectorInfo, following *SectorInfo) error

	// ScanRecord inspects the record header at the start of sectorRemaining.
	// On a valid record info.Payload holds the payload length and
	// info.NextRecord the offset of the next header; NextRecord may also be
	// set on a bad record when it is possible to skip it. The returned value
	// is the offset of the payload from the start of sectorRemaining.
	ScanRecord(sectorRemaining Span, sectorInfo *SectorInfo, info *RecordInfo) (int, error)

	// InitSector initializes a freshly erased sector. On entry info carries
	// the most recent sector's state; the format derives the new sequence
	// from it when it is valid. On success info.State is SectorValid and the
	// Sequence, FirstRecord and FixedRecordSize fields are filled in.
	InitSector(sector Span, info *SectorInfo) error

	// InitRecord reserves space for a record of up to payload bytes at the
	// start of sectorRemaining, writing the header in unfinished form. On
	// success info.State is RecordValid, info.Payload holds the granted
	// length and info.NextRecord points past the reservation; info.State is
	// RecordBad when nothing fits. The returned value is the offset of the
	// payload from the start of sectorRemaining.
	InitRecord(sectorRemaining Span, info *RecordInfo, payload int) (int, error)

	// CommitRecord marks a previously allocated record as valid. The span is
	// the record payload as granted by InitRecord. The transformation must
	// be a single program step that cannot partially apply in a way that is
	// indistinguishable from a valid record.
	CommitRecord(payload Span) error
}
