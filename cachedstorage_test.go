package storage

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/NebulousLabs/fastrand"
	"github.com/stretchr/testify/require"
)

func TestCachedStorageReadHit(t *testing.T) {
	m := NewMemStorage(8192, 1024)
	require.NoError(t, m.Write(100, []byte{1, 2, 3, 4}))

	c := NewCachedStorage(m, 8)
	buf := make([]byte, 4)
	require.NoError(t, c.Read(100, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	// a write through the wrapper must be visible in cached reads
	require.NoError(t, c.Write(100, []byte{0x00}))
	require.NoError(t, c.Read(100, buf))
	require.Equal(t, []byte{0x00, 2, 3, 4}, buf)

	// and on the medium itself
	require.NoError(t, m.Read(100, buf))
	require.Equal(t, []byte{0x00, 2, 3, 4}, buf)
}

func TestCachedStorageEraseInvalidates(t *testing.T) {
	m := NewMemStorage(8192, 1024)
	require.NoError(t, m.Fill(0, 0, 2048))

	c := NewCachedStorage(m, 8)
	buf := make([]byte, 16)
	require.NoError(t, c.Read(1024, buf))
	require.Equal(t, make([]byte, 16), buf)

	ok, err := c.Erase(1024, 1024)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Read(1024, buf))
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 16), buf, "cached pages must read as erased after an erase")
}

// TestCachedStorageEquivalence drives random operations through a cached
// storage and a plain one and checks that reads never diverge. The cache is
// kept tiny to force constant eviction.
func TestCachedStorageEquivalence(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	control := NewMemStorage(8192, 1024)
	backing := NewMemStorage(8192, 1024)
	cached := NewCachedStorage(backing, cacheWays)

	for i := 0; i < 2000; i++ {
		switch fastrand.Intn(4) {
		case 0:
			data := fastrand.Bytes(1 + fastrand.Intn(64))
			addr := uint32(fastrand.Intn(8192 - len(data)))
			require.NoError(t, control.Write(addr, data))
			require.NoError(t, cached.Write(addr, data))
		case 1:
			length := 1 + fastrand.Intn(64)
			addr := uint32(fastrand.Intn(8192 - length))
			value := byte(fastrand.Intn(256))
			require.NoError(t, control.Fill(addr, value, length))
			require.NoError(t, cached.Fill(addr, value, length))
		case 2:
			addr := uint32(fastrand.Intn(8)) * 1024
			_, err := control.Erase(addr, 1024)
			require.NoError(t, err)
			_, err = cached.Erase(addr, 1024)
			require.NoError(t, err)
		case 3:
			length := 1 + fastrand.Intn(600)
			addr := uint32(fastrand.Intn(8192 - length))
			want := make([]byte, length)
			got := make([]byte, length)
			require.NoError(t, control.Read(addr, want))
			require.NoError(t, cached.Read(addr, got))
			require.Equal(t, want, got, "cached read diverged at %#x", addr)
		}
	}

	// the full medium must match in the end
	want := make([]byte, 8192)
	got := make([]byte, 8192)
	require.NoError(t, control.Read(0, want))
	require.NoError(t, cached.Read(0, got))
	require.Equal(t, want, got)
}

// TestCachedJournal runs a journal through the page cache end to end.
func TestCachedJournal(t *testing.T) {
	m := NewMemStorage(8192, 1024)
	c := NewCachedStorage(m, 16)

	j := NewJournal(c, NewSimpleVariableFormat(testMagic))
	require.NoError(t, j.Scan())

	for i := 0; i < 500; i++ {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(i))
		ok, err := j.Write(buf[:])
		require.NoError(t, err)
		require.True(t, ok)
	}

	// recover through a fresh cache over the same medium
	j = NewJournal(NewCachedStorage(m, 16), NewSimpleVariableFormat(testMagic))
	require.NoError(t, j.Scan())

	next := 0
	var se SectorEnumerator
	j.EnumerateSectors(&se)
	for {
		ok, err := j.NextSector(&se)
		require.NoError(t, err)
		if !ok {
			break
		}
		var re RecordEnumerator
		j.EnumerateRecords(&re, se.Sector())
		for {
			n, err := j.NextRecord(&re)
			require.NoError(t, err)
			if n == 0 {
				break
			}
			var buf [4]byte
			_, err = j.ReadRecord(&re, buf[:], 0)
			require.NoError(t, err)
			require.EqualValues(t, next, binary.LittleEndian.Uint32(buf[:]))
			next++
		}
	}
	require.Equal(t, 500, next)
}
