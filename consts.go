package storage

const (
	// pageHeaderSize is the size of the {magic, sequence} header that
	// SimpleVariableFormat stamps at the start of every sector.
	pageHeaderSize = 8

	// recordHeaderSize is the size of the record size field preceding every
	// record payload.
	recordHeaderSize = 2

	// maxRecordPayload is the largest payload length encodable in the 15
	// usable bits of a record size field.
	maxRecordPayload = 0x7FFF

	// recordUnfinishedBit is set in a record size field between allocation
	// and commit. Committing clears this single bit in place, which is the
	// only kind of update that AND-only programming allows.
	recordUnfinishedBit = 0x8000

	// emptyRecordWord is the value an erased size field reads as, marking a
	// free slot and the end of the used part of a sector.
	emptyRecordWord = 0xFFFF

	// programPageSize is the programming granularity used by the simulated
	// and file-backed storages, matching typical SPI-NOR devices.
	programPageSize = 256
)

// invalidAddr marks an enumerator that is not positioned on any sector.
const invalidAddr = ^uint32(0)
