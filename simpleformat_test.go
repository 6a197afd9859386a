package storage

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func formatTestStorage(t *testing.T) (*MemStorage, *SimpleVariableFormat) {
	t.Helper()
	return NewMemStorage(8192, 1024), NewSimpleVariableFormat(testMagic)
}

func TestFormatInitSector(t *testing.T) {
	m, f := formatTestStorage(t)

	var si SectorInfo
	require.NoError(t, f.InitSector(SectorSpan(m, 0), &si))
	require.True(t, si.IsValid())
	require.EqualValues(t, 1, si.Sequence, "the first-ever sector starts at sequence 1")
	require.EqualValues(t, pageHeaderSize, si.FirstRecord)
	require.EqualValues(t, 0, si.FixedRecordSize)

	hdr := make([]byte, pageHeaderSize)
	require.NoError(t, m.Read(0, hdr))
	require.Equal(t, testMagic, binary.LittleEndian.Uint32(hdr[0:4]))
	require.EqualValues(t, 1, binary.LittleEndian.Uint32(hdr[4:8]))

	// the next sector continues the sequence carried in the info
	require.NoError(t, f.InitSector(SectorSpan(m, 1024), &si))
	require.EqualValues(t, 2, si.Sequence)
}

func TestFormatScanSector(t *testing.T) {
	m, f := formatTestStorage(t)

	var si SectorInfo
	require.NoError(t, f.ScanSector(SectorSpan(m, 0), &si, nil))
	require.True(t, si.IsEmpty())

	require.NoError(t, f.InitSector(SectorSpan(m, 0), &si))
	require.NoError(t, f.InitSector(SectorSpan(m, 1024), &si))

	var scanned SectorInfo
	require.NoError(t, f.ScanSector(SectorSpan(m, 0), &scanned, nil))
	require.True(t, scanned.IsValid())
	require.False(t, scanned.IsPreceding())
	require.EqualValues(t, 1, scanned.Sequence)

	// sector 0 immediately precedes sector 1
	following := SectorInfo{State: SectorValid, Sequence: 2}
	require.NoError(t, f.ScanSector(SectorSpan(m, 0), &scanned, &following))
	require.True(t, scanned.IsPreceding())

	// but not a sector further in the future
	following.Sequence = 3
	require.NoError(t, f.ScanSector(SectorSpan(m, 0), &scanned, &following))
	require.True(t, scanned.IsValid())
	require.False(t, scanned.IsPreceding())

	// a foreign magic makes the sector bad
	m.Corrupt(0, 0x01)
	require.NoError(t, f.ScanSector(SectorSpan(m, 0), &scanned, nil))
	require.True(t, scanned.IsBad())
}

func TestFormatInitRecord(t *testing.T) {
	m, f := formatTestStorage(t)

	var si SectorInfo
	require.NoError(t, f.InitSector(SectorSpan(m, 0), &si))

	var ri RecordInfo
	off, err := f.InitRecord(RestOfSector(m, pageHeaderSize), &ri, 100)
	require.NoError(t, err)
	require.Equal(t, recordHeaderSize, off)
	require.True(t, ri.IsValid())
	require.EqualValues(t, 100, ri.Payload)
	require.EqualValues(t, recordHeaderSize+100, ri.NextRecord)

	// the header carries the unfinished bit until committed
	hdr := make([]byte, recordHeaderSize)
	require.NoError(t, m.Read(pageHeaderSize, hdr))
	require.EqualValues(t, 100|recordUnfinishedBit, binary.LittleEndian.Uint16(hdr))
}

func TestFormatInitRecordClamps(t *testing.T) {
	m, f := formatTestStorage(t)

	var si SectorInfo
	require.NoError(t, f.InitSector(SectorSpan(m, 0), &si))

	// an oversize request right after the page header is clamped to the sector
	var ri RecordInfo
	_, err := f.InitRecord(RestOfSector(m, pageHeaderSize), &ri, 4096)
	require.NoError(t, err)
	require.True(t, ri.IsValid())
	require.EqualValues(t, 1024-pageHeaderSize-recordHeaderSize, ri.Payload)

	// mid-sector the same request does not fit and the sector must advance
	require.NoError(t, f.InitSector(SectorSpan(m, 1024), &si))
	var small RecordInfo
	_, err = f.InitRecord(RestOfSector(m, 1024+pageHeaderSize), &small, 10)
	require.NoError(t, err)
	require.True(t, small.IsValid())

	var big RecordInfo
	off, err := f.InitRecord(RestOfSector(m, 1024+pageHeaderSize+uint32(small.NextRecord)), &big, 4096)
	require.NoError(t, err)
	require.Equal(t, 0, off)
	require.True(t, big.IsBad())
	require.EqualValues(t, 0, big.NextRecord)
}

func TestFormatScanRecord(t *testing.T) {
	m, f := formatTestStorage(t)

	var si SectorInfo
	require.NoError(t, f.InitSector(SectorSpan(m, 0), &si))

	var ri RecordInfo
	_, err := f.InitRecord(RestOfSector(m, pageHeaderSize), &ri, 20)
	require.NoError(t, err)

	// unfinished records scan as bad, but can be skipped
	var scanned RecordInfo
	off, err := f.ScanRecord(RestOfSector(m, pageHeaderSize), &si, &scanned)
	require.NoError(t, err)
	require.Equal(t, recordHeaderSize, off)
	require.True(t, scanned.IsBad())
	require.EqualValues(t, recordHeaderSize+20, scanned.NextRecord)

	// committed records scan as valid
	require.NoError(t, f.CommitRecord(NewSpan(m, pageHeaderSize+recordHeaderSize, 20)))
	_, err = f.ScanRecord(RestOfSector(m, pageHeaderSize), &si, &scanned)
	require.NoError(t, err)
	require.True(t, scanned.IsValid())
	require.EqualValues(t, 20, scanned.Payload)

	// the erased area past the record scans as empty
	_, err = f.ScanRecord(RestOfSector(m, pageHeaderSize+uint32(scanned.NextRecord)), &si, &scanned)
	require.NoError(t, err)
	require.True(t, scanned.IsEmpty())
}

func TestFormatCommitClearsUnfinishedBitOnly(t *testing.T) {
	m, f := formatTestStorage(t)

	var si SectorInfo
	require.NoError(t, f.InitSector(SectorSpan(m, 0), &si))

	var ri RecordInfo
	_, err := f.InitRecord(RestOfSector(m, pageHeaderSize), &ri, 0x123)
	require.NoError(t, err)

	require.NoError(t, f.CommitRecord(NewSpan(m, pageHeaderSize+recordHeaderSize, int(ri.Payload))))

	hdr := make([]byte, recordHeaderSize)
	require.NoError(t, m.Read(pageHeaderSize, hdr))
	require.EqualValues(t, 0x123, binary.LittleEndian.Uint16(hdr),
		"the commit must clear the unfinished bit and preserve the length")
}
