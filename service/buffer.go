package service

// checkMagic keeps the checksum of a zeroed Buffer from ever being valid.
const checkMagic = 0x9e3779b97f4a7c15

// Buffer is the pooled payload the soak workload pushes and pops. A buffer
// that is reset while some reader still holds it fails verify.
type Buffer struct {
	ID    uint64
	Data  [48]byte
	Check uint64
}

func (b *Buffer) fill(id uint64) {
	b.ID = id
	for i := range b.Data {
		b.Data[i] = byte(id) + byte(i)
	}
	b.Check = b.checksum()
}

func (b *Buffer) checksum() uint64 {
	sum := b.ID ^ checkMagic
	for _, c := range b.Data {
		sum = sum*31 + uint64(c)
	}
	return sum | 1
}

func (b *Buffer) verify() bool {
	return b.Check == b.checksum()
}

func resetBuffer(b *Buffer) {
	*b = Buffer{}
}
