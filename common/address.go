package common

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// nearly hungarian notation notes:
// raw -> []byte chain-native account id (usually a 32-byte public key)
// addr -> checksummed ss58 string address

var ss58Context = []byte("SS58PRE")

// Maximum network prefix representable in the two-byte ss58 form.
const maxSS58Prefix = 16383

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidChecksum = errors.New("invalid address checksum")
)

// checksumLength returns the number of checksum bytes used for a payload
// of rawLen bytes, or 0 if the length is not a valid ss58 payload.
func checksumLength(rawLen int) int {
	switch rawLen {
	case 1, 2, 4, 8:
		return 1
	case 32, 33:
		return 2
	default:
		return 0
	}
}

func prefixBytes(prefix uint16) []byte {
	if prefix < 64 {
		return []byte{byte(prefix)}
	}
	// Two-byte form: 14 bits of prefix, the upper two set to 01.
	first := byte(((prefix & 0b0000_0000_1111_1100) >> 2) | 0b0100_0000)
	second := byte((prefix >> 8) | ((prefix & 0b0000_0000_0000_0011) << 6))
	return []byte{first, second}
}

func ss58Checksum(data []byte) []byte {
	h := blake2b.Sum512(append(append([]byte{}, ss58Context...), data...))
	return h[:]
}

// EncodeAddress encodes a raw account id into an ss58 address for the given
// network prefix.
func EncodeAddress(raw []byte, prefix uint16) (string, error) {
	if prefix > maxSS58Prefix {
		return "", fmt.Errorf("%w: prefix %d out of range", ErrInvalidAddress, prefix)
	}
	n := checksumLength(len(raw))
	if n == 0 {
		return "", fmt.Errorf("%w: unsupported id length %d", ErrInvalidAddress, len(raw))
	}
	payload := append(prefixBytes(prefix), raw...)
	payload = append(payload, ss58Checksum(payload)[:n]...)
	return base58.Encode(payload), nil
}

// MustEncodeAddress is like EncodeAddress, but panics on error. Only use it
// on ids that have already been validated.
func MustEncodeAddress(raw []byte, prefix uint16) string {
	addr, err := EncodeAddress(raw, prefix)
	if err != nil {
		panic(err)
	}
	return addr
}

// DecodeAddress decodes an ss58 address into the raw account id and the
// network prefix it was encoded with.
func DecodeAddress(addr string) ([]byte, uint16, error) {
	data, err := base58.Decode(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: base58: %v", ErrInvalidAddress, err)
	}
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("%w: too short", ErrInvalidAddress)
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case data[0] < 64:
		prefix = uint16(data[0])
	case data[0] < 128:
		prefixLen = 2
		lower := (uint16(data[0]) << 2) | (uint16(data[1]) >> 6)
		upper := uint16(data[1] & 0b0011_1111)
		prefix = (lower & 0b0000_0000_1111_1111) | (upper << 8)
	default:
		return nil, 0, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidAddress, data[0])
	}

	body := data[prefixLen:]
	var raw []byte
	for _, rawLen := range []int{1, 2, 4, 8, 32, 33} {
		if len(body) == rawLen+checksumLength(rawLen) {
			raw = body[:rawLen]
			break
		}
	}
	if raw == nil {
		return nil, 0, fmt.Errorf("%w: unsupported length %d", ErrInvalidAddress, len(data))
	}

	n := checksumLength(len(raw))
	expected := ss58Checksum(data[:prefixLen+len(raw)])[:n]
	if !bytes.Equal(expected, body[len(raw):]) {
		return nil, 0, ErrInvalidChecksum
	}
	return append([]byte{}, raw...), prefix, nil
}
