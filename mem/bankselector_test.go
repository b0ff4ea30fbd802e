package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var selectorNames = []string{"ZERO", "DIRECT", "RMIX", "XORFOLD", "ADDFOLD", "XORLSB", "ADDLSB"}

func TestBankSelectorRoundTrip(t *testing.T) {
	addrs := []Address{0, 1, 7, 64, 0x1000, 0x12345, 0xdeadbeef, 1 << 40}
	for _, name := range selectorNames {
		for _, banks := range []int{1, 4, 8, 12, 64} {
			sel, err := MakeBankSelector(name, banks)
			require.NoError(t, err, "%s/%d", name, banks)
			for _, a := range addrs {
				tag, index := sel.Map(a)
				assert.Less(t, index, sel.NumBanks(), "%s/%d", name, banks)
				assert.Equal(t, a, sel.Unmap(tag, index), "%s/%d addr %x", name, banks, a)
			}
		}
	}
}

func TestBankSelectorDirectForms(t *testing.T) {
	pow2, err := MakeBankSelector("DIRECT", 8)
	require.NoError(t, err)
	assert.Equal(t, "direct (shift+and)", pow2.Description())

	odd, err := MakeBankSelector("DIRECT", 12)
	require.NoError(t, err)
	assert.Equal(t, "direct (div+mod)", odd.Description())

	// Both forms agree with the plain arithmetic definition.
	for _, a := range []Address{0, 5, 8, 100, 1023} {
		_, i := pow2.Map(a)
		assert.Equal(t, int(a%8), i)
		_, j := odd.Map(a)
		assert.Equal(t, int(a%12), j)
	}
}

func TestBankSelectorSingleBankIsZero(t *testing.T) {
	sel, err := MakeBankSelector("RMIX", 1)
	require.NoError(t, err)
	_, index := sel.Map(0xabc)
	assert.Equal(t, 0, index)
	assert.Equal(t, "bank 0 only", sel.Description())
}

func TestBankSelectorUnknownName(t *testing.T) {
	_, err := MakeBankSelector("PRIME", 8)
	assert.Error(t, err)
}

func TestBackingReadWrite(t *testing.T) {
	b := NewBacking()

	data := make([]byte, 64)
	b.Read(0x1000, data)
	for _, v := range data {
		require.Zero(t, v)
	}

	line := make([]byte, 64)
	mask := make([]bool, 64)
	for i := 0; i < 8; i++ {
		line[i] = byte(i + 1)
		mask[i] = true
	}
	b.Write(0x1000, line, mask)

	got := make([]byte, 64)
	b.Read(0x1000, got)
	for i := 0; i < 8; i++ {
		assert.Equal(t, byte(i+1), got[i])
	}
	assert.Zero(t, got[8])

	// Page-spanning access.
	span := make([]byte, 128)
	for i := range span {
		span[i] = byte(i)
	}
	b.Write(4096-64, span, nil)
	back := make([]byte, 128)
	b.Read(4096-64, back)
	assert.Equal(t, span, back)
}
