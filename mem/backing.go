package mem

// Backing is the functional contents of simulated memory, shared by every
// timing model as the authoritative byte store. It is sparse: pages are
// allocated on first touch and read as zero before that.
type Backing struct {
	pageSize uint64
	pages    map[uint64][]byte
}

const defaultPageSize = 4096

// NewBacking creates an empty backing store.
func NewBacking() *Backing {
	return &Backing{
		pageSize: defaultPageSize,
		pages:    make(map[uint64][]byte),
	}
}

func (b *Backing) page(addr Address, allocate bool) ([]byte, uint64) {
	base := uint64(addr) / b.pageSize
	off := uint64(addr) % b.pageSize
	p, ok := b.pages[base]
	if !ok && allocate {
		p = make([]byte, b.pageSize)
		b.pages[base] = p
	}
	return p, off
}

// Read copies len(data) bytes starting at addr into data.
func (b *Backing) Read(addr Address, data []byte) {
	for n := 0; n < len(data); {
		p, off := b.page(addr+Address(n), false)
		chunk := int(b.pageSize - off)
		if chunk > len(data)-n {
			chunk = len(data) - n
		}
		if p == nil {
			for i := 0; i < chunk; i++ {
				data[n+i] = 0
			}
		} else {
			copy(data[n:n+chunk], p[off:])
		}
		n += chunk
	}
}

// Write stores data starting at addr. A nil mask writes every byte;
// otherwise only bytes with a true mask entry are written.
func (b *Backing) Write(addr Address, data []byte, mask []bool) {
	for n := 0; n < len(data); n++ {
		if mask != nil && !mask[n] {
			continue
		}
		p, off := b.page(addr+Address(n), true)
		p[off] = data[n]
	}
}
