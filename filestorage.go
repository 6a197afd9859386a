package storage

import (
	"io"
	"os"
	"time"

	"github.com/NebulousLabs/errors"
)

// FileStorage is a ByteStorage backed by an image file, e.g. a journal dump
// captured from a device. It reproduces flash semantics on top of ordinary
// file I/O: programming reads the existing content and ANDs the new data in
// with page granularity, erasing fills whole sectors with 0xFF.
type FileStorage struct {
	geo  Geometry
	f    file
	deps dependencies
}

// NewFileStorage opens the image at path, creating an erased image of size
// bytes if it does not exist. The size of an existing image must match.
func NewFileStorage(path string, size, sectorSize uint32) (*FileStorage, error) {
	return newFileStorage(path, size, sectorSize, prodDependencies{})
}

func newFileStorage(path string, size, sectorSize uint32, deps dependencies) (*FileStorage, error) {
	geo := NewGeometry(size, sectorSize)

	f, err := deps.openFile(path, os.O_RDWR, 0600)
	if os.IsNotExist(err) {
		f, err = deps.create(path)
		if err != nil {
			return nil, errors.Extend(err, errors.New("image could not be created"))
		}
		// lay down an erased image
		blank := make([]byte, geo.SectorSize())
		for i := range blank {
			blank[i] = 0xFF
		}
		for addr := uint32(0); addr < size; addr += geo.SectorSize() {
			if _, err := f.WriteAt(blank, int64(addr)); err != nil {
				return nil, errors.Compose(errors.Extend(err, errors.New("image could not be initialized")), f.Close())
			}
		}
	} else if err != nil {
		return nil, errors.Extend(err, errors.New("image could not be opened"))
	} else {
		fi, err := f.Stat()
		if err != nil {
			return nil, errors.Compose(err, f.Close())
		}
		if fi.Size() != int64(size) {
			return nil, errors.Compose(errors.New("image size does not match storage geometry"), f.Close())
		}
	}

	return &FileStorage{geo: geo, f: f, deps: deps}, nil
}

// Close closes the underlying image file.
func (fs *FileStorage) Close() error { return fs.f.Close() }

// Name returns the path of the underlying image file.
func (fs *FileStorage) Name() string { return fs.f.Name() }

// Geometry implements ByteStorage.
func (fs *FileStorage) Geometry() Geometry { return fs.geo }

func (fs *FileStorage) checkRange(addr uint32, length int) {
	if addr > fs.geo.Size() || addr+uint32(length) > fs.geo.Size() {
		panic("sanity check failed: access outside storage bounds")
	}
}

// Read implements ByteStorage.
func (fs *FileStorage) Read(addr uint32, buf []byte) error {
	fs.checkRange(addr, len(buf))
	_, err := fs.f.ReadAt(buf, int64(addr))
	return err
}

// ReadToRegister implements ByteStorage.
func (fs *FileStorage) ReadToRegister(addr uint32, reg *byte, length int) error {
	fs.checkRange(addr, length)
	buf := make([]byte, 1)
	for i := 0; i < length; i++ {
		if _, err := fs.f.ReadAt(buf, int64(addr)+int64(i)); err != nil {
			return err
		}
		*reg = buf[0]
	}
	return nil
}

// ReadToPipe implements ByteStorage.
func (fs *FileStorage) ReadToPipe(pipe io.Writer, addr uint32, length int, timeout time.Duration) (int, error) {
	fs.checkRange(addr, length)
	buf := make([]byte, programPageSize)
	read := 0
	for read < length {
		blk := length - read
		if blk > programPageSize {
			blk = programPageSize
		}
		if _, err := fs.f.ReadAt(buf[:blk], int64(addr)+int64(read)); err != nil {
			return read, err
		}
		n, err := pipe.Write(buf[:blk])
		read += n
		if err != nil || n < blk {
			return read, err
		}
	}
	return read, nil
}

// program ANDs one page-bounded chunk into the image.
func (fs *FileStorage) program(addr uint32, data []byte) error {
	if fs.deps.disrupt("WriteFault") {
		return errors.New("program failed (disrupted write)")
	}
	existing := make([]byte, len(data))
	if _, err := fs.f.ReadAt(existing, int64(addr)); err != nil {
		return err
	}
	for i := range existing {
		existing[i] &= data[i]
	}
	_, err := fs.f.WriteAt(existing, int64(addr))
	return err
}

// Write implements ByteStorage.
func (fs *FileStorage) Write(addr uint32, data []byte) error {
	fs.checkRange(addr, len(data))
	for written := 0; written < len(data); {
		blk := pageRemaining(addr + uint32(written))
		if rest := len(data) - written; blk > rest {
			blk = rest
		}
		if err := fs.program(addr+uint32(written), data[written:written+blk]); err != nil {
			return err
		}
		written += blk
	}
	return nil
}

// WriteFromPipe implements ByteStorage.
func (fs *FileStorage) WriteFromPipe(pipe io.Reader, addr uint32, length int, timeout time.Duration) (int, error) {
	fs.checkRange(addr, length)
	buf := make([]byte, programPageSize)
	written := 0
	for written < length {
		blk := length - written
		if blk > programPageSize {
			blk = programPageSize
		}
		n, err := pipe.Read(buf[:blk])
		if n > 0 {
			if werr := fs.Write(addr+uint32(written), buf[:n]); werr != nil {
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
func (fs *FileStorage) Fill(addr uint32, value byte, length int) error {
	fs.checkRange(addr, length)
	chunk := make([]byte, programPageSize)
	for i := range chunk {
		chunk[i] = value
	}
	for written := 0; written < length; {
		blk := pageRemaining(addr + uint32(written))
		if rest := length - written; blk > rest {
			blk = rest
		}
		if err := fs.program(addr+uint32(written), chunk[:blk]); err != nil {
			return err
		}
		written += blk
	}
	return nil
}

// IsAll implements ByteStorage.
func (fs *FileStorage) IsAll(addr uint32, value byte, length int) (bool, error) {
	fs.checkRange(addr, length)
	buf := make([]byte, programPageSize)
	for checked := 0; checked < length; {
		blk := length - checked
		if blk > programPageSize {
			blk = programPageSize
		}
		if _, err := fs.f.ReadAt(buf[:blk], int64(addr)+int64(checked)); err != nil {
			return false, err
		}
		for _, b := range buf[:blk] {
			if b != value {
				return false, nil
			}
		}
		checked += blk
	}
	return true, nil
}

// IsEmpty implements ByteStorage.
func (fs *FileStorage) IsEmpty(addr uint32, length int) (bool, error) {
	return fs.IsAll(addr, 0xFF, length)
}

// Erase implements ByteStorage.
func (fs *FileStorage) Erase(addr uint32, length uint32) (bool, error) {
	fs.checkRange(addr, int(length))
	mask := fs.geo.SectorMask()
	start := addr &^ mask
	end := (addr + length + mask) &^ mask

	for start < end {
		next, err := fs.EraseFirst(start, end-start)
		if err != nil {
			return false, err
		}
		if next == start {
			return false, nil
		}
		start = next
	}
	return true, nil
}

// EraseFirst implements ByteStorage.
func (fs *FileStorage) EraseFirst(addr uint32, length uint32) (uint32, error) {
	fs.checkRange(addr, int(length))
	mask := fs.geo.SectorMask()
	start := addr &^ mask
	end := (addr + length + mask) &^ mask

	if start+fs.geo.SectorSize() > end {
		return addr, nil
	}
	if fs.deps.disrupt("EraseFault") {
		return addr, nil
	}

	blank := make([]byte, fs.geo.SectorSize())
	for i := range blank {
		blank[i] = 0xFF
	}
	if _, err := fs.f.WriteAt(blank, int64(start)); err != nil {
		return addr, err
	}
	return start + fs.geo.SectorSize(), nil
}

// Sync implements ByteStorage.
func (fs *FileStorage) Sync() error {
	if fs.deps.disrupt("SyncFault") {
		return errors.New("sync failed (disrupted)")
	}
	return fs.f.Sync()
}
