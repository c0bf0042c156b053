package chi

// dataIDGranuleBytes is the addressing granule of the DataID field.
const dataIDGranuleBytes = 16

// DataIDs enumerates the DataID of each DAT beat that covers the bytes
// addressed by the payload, at the given data path width. A beat carries
// dataWidthBytes of the line; DataID advances in 16-byte granules.
func DataIDs(p *Payload, dataWidthBytes uint) []uint8 {
	offset := p.Address % CacheLineSizeBytes
	size := p.SizeBytes()
	if size > CacheLineSizeBytes {
		size = CacheLineSizeBytes
	}

	firstBeat := uint(offset) / dataWidthBytes
	lastBeat := (uint(offset) + uint(size) - 1) / dataWidthBytes
	step := uint8(dataWidthBytes / dataIDGranuleBytes)

	ids := make([]uint8, 0, lastBeat-firstBeat+1)
	for beat := firstBeat; beat <= lastBeat; beat++ {
		ids = append(ids, uint8(beat)*step)
	}
	return ids
}

// BeatCount returns the number of DAT beats a write of the payload's size
// takes at the given data path width. A write never takes fewer than one
// beat.
func BeatCount(p *Payload, dataWidthBytes uint) uint {
	size := uint(p.SizeBytes())
	if size <= dataWidthBytes {
		return 1
	}
	return size / dataWidthBytes
}

// ValidBytesMask returns the bitmap of the cache-line bytes the payload
// addresses. Bit i covers byte i of the line the address falls in.
func ValidBytesMask(p *Payload) uint64 {
	size := p.SizeBytes()
	if size >= CacheLineSizeBytes {
		return ^uint64(0)
	}
	offset := p.Address % CacheLineSizeBytes
	return ((uint64(1) << size) - 1) << offset
}
