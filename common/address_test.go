package common

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

// Well-known development key (//Alice) and its address on the generic
// substrate network (prefix 42).
const (
	aliceHex  = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	aliceSS58 = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

func TestEncodeKnownAddress(t *testing.T) {
	raw := AccountID(hexutil.MustDecode(aliceHex))

	addr, err := EncodeAddress(raw, 42)
	require.NoError(t, err)
	require.Equal(t, aliceSS58, addr)

	decoded, prefix, err := DecodeAddress(aliceSS58)
	require.NoError(t, err)
	require.Equal(t, uint16(42), prefix)
	require.Equal(t, []byte(raw), decoded)
}

func TestAddressRoundTrip(t *testing.T) {
	for _, prefix := range []uint16{0, 2, 42, 63, 64, 255, 1284, 16383} {
		for _, n := range []int{1, 2, 4, 8, 32, 33} {
			raw := bytes.Repeat([]byte{byte(n)}, n)
			raw[0] = 0xAA

			addr, err := EncodeAddress(raw, prefix)
			require.NoError(t, err, "prefix %d len %d", prefix, n)

			decoded, decodedPrefix, err := DecodeAddress(addr)
			require.NoError(t, err, "prefix %d len %d", prefix, n)
			require.Equal(t, raw, decoded, "prefix %d len %d", prefix, n)
			require.Equal(t, prefix, decodedPrefix, "prefix %d len %d", prefix, n)
		}
	}
}

func TestEncodeAddressErrors(t *testing.T) {
	_, err := EncodeAddress(make([]byte, 20), 42)
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = EncodeAddress(make([]byte, 32), 16384)
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDecodeAddressErrors(t *testing.T) {
	_, _, err := DecodeAddress("0OIl")
	require.ErrorIs(t, err, ErrInvalidAddress)

	data, err := base58.Decode(aliceSS58)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	_, _, err = DecodeAddress(base58.Encode(data))
	require.ErrorIs(t, err, ErrInvalidChecksum)

	_, _, err = DecodeAddress(base58.Encode(data[:20]))
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAccountIDJSON(t *testing.T) {
	raw := AccountID(hexutil.MustDecode(aliceHex))

	var direct, multi AccountID
	require.NoError(t, direct.UnmarshalJSON([]byte(`"`+aliceHex+`"`)))
	require.NoError(t, multi.UnmarshalJSON([]byte(`{"__kind": "Id", "value": "`+aliceHex+`"}`)))
	require.True(t, raw.Equal(direct))
	require.True(t, raw.Equal(multi))

	out, err := raw.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"`+aliceHex+`"`, string(out))

	require.Error(t, multi.UnmarshalJSON([]byte(`{"__kind": "Index", "value": 3}`)))
}

func TestUniqueAccountIDs(t *testing.T) {
	a, b := AccountID{0xAA}, AccountID{0xBB}
	require.Equal(t, []AccountID{a, b}, UniqueAccountIDs([]AccountID{a, b, a, b}))
}
