package seeds

// MT19937 period parameters.
const (
	mtN         = 624
	mtM         = 397
	mtMatrixA   = 0x9908b0df
	mtUpperMask = 0x80000000
	mtLowerMask = 0x7fffffff
)

// mersenneTwister is the 32-bit MT19937 generator. It is not safe for
// concurrent use; a SeedSequence owns exactly one instance.
type mersenneTwister struct {
	mt  [mtN]uint32
	mti int
}

// newMersenneTwister seeds the generator with the 64-bit seed split into
// its high and low words, using the reference array initialisation.
func newMersenneTwister(seed int64) *mersenneTwister {
	u := uint64(seed)
	return newMersenneTwisterFromKey([]uint32{uint32(u >> 32), uint32(u)})
}

func (m *mersenneTwister) seedScalar(s uint32) {
	m.mt[0] = s
	for i := 1; i < mtN; i++ {
		prev := m.mt[i-1]
		m.mt[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	m.mti = mtN
}

// newMersenneTwisterFromKey implements init_by_array.
func newMersenneTwisterFromKey(key []uint32) *mersenneTwister {
	m := &mersenneTwister{}
	m.seedScalar(19650218)

	i, j := 1, 0
	k := max(mtN, len(key))
	for ; k > 0; k-- {
		prev := m.mt[i-1]
		m.mt[i] = (m.mt[i] ^ ((prev ^ (prev >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= mtN {
			m.mt[0] = m.mt[mtN-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = mtN - 1; k > 0; k-- {
		prev := m.mt[i-1]
		m.mt[i] = (m.mt[i] ^ ((prev ^ (prev >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= mtN {
			m.mt[0] = m.mt[mtN-1]
			i = 1
		}
	}
	m.mt[0] = mtUpperMask
	return m
}

func (m *mersenneTwister) generate() {
	var y uint32
	kk := 0
	for ; kk < mtN-mtM; kk++ {
		y = (m.mt[kk] & mtUpperMask) | (m.mt[kk+1] & mtLowerMask)
		m.mt[kk] = m.mt[kk+mtM] ^ (y >> 1) ^ ((y & 1) * mtMatrixA)
	}
	for ; kk < mtN-1; kk++ {
		y = (m.mt[kk] & mtUpperMask) | (m.mt[kk+1] & mtLowerMask)
		m.mt[kk] = m.mt[kk+(mtM-mtN)] ^ (y >> 1) ^ ((y & 1) * mtMatrixA)
	}
	y = (m.mt[mtN-1] & mtUpperMask) | (m.mt[0] & mtLowerMask)
	m.mt[mtN-1] = m.mt[mtM-1] ^ (y >> 1) ^ ((y & 1) * mtMatrixA)
	m.mti = 0
}

// Uint32 returns the next tempered 32-bit output.
func (m *mersenneTwister) Uint32() uint32 {
	if m.mti >= mtN {
		m.generate()
	}
	y := m.mt[m.mti]
	m.mti++

	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Int64 composes two consecutive outputs, high word first.
func (m *mersenneTwister) Int64() int64 {
	hi := uint64(m.Uint32())
	lo := uint64(m.Uint32())
	return int64(hi<<32 | lo)
}
