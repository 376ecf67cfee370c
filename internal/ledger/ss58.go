package ledger

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// DefaultSS58Prefix is the generic Substrate address format.
const DefaultSS58Prefix = 42

var (
	ss58Context = []byte("SS58PRE")

	// ErrInvalidAddress is returned for malformed or mis-checksummed addresses.
	ErrInvalidAddress = errors.New("invalid ss58 address")
)

// EncodeAddress renders a 32-byte public key as an SS58 address.
func EncodeAddress(pub []byte, prefix uint16) (string, error) {
	if len(pub) != 32 {
		return "", fmt.Errorf("%w: public key must be 32 bytes, got %d", ErrInvalidAddress, len(pub))
	}
	if prefix > 16383 {
		return "", fmt.Errorf("%w: prefix %d out of range", ErrInvalidAddress, prefix)
	}

	data := append(prefixBytes(prefix), pub...)
	sum, err := ss58Checksum(data)
	if err != nil {
		return "", err
	}
	return base58.Encode(append(data, sum[:2]...)), nil
}

// DecodeAddress parses an SS58 address into its public key and prefix.
func DecodeAddress(addr string) ([]byte, uint16, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 3 {
		return nil, 0, fmt.Errorf("%w: too short", ErrInvalidAddress)
	}

	var (
		prefix    uint16
		prefixLen int
	)
	if raw[0] < 64 {
		prefix, prefixLen = uint16(raw[0]), 1
	} else if raw[0] < 128 {
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0b0011_1111
		prefix, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	} else {
		return nil, 0, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidAddress, raw[0])
	}

	if len(raw) != prefixLen+32+2 {
		return nil, 0, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}

	body := raw[:prefixLen+32]
	sum, err := ss58Checksum(body)
	if err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(sum[:2], raw[prefixLen+32:]) {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}

	pub := make([]byte, 32)
	copy(pub, raw[prefixLen:prefixLen+32])
	return pub, prefix, nil
}

// ValidAddress reports whether addr decodes as an SS58 account id.
func ValidAddress(addr string) bool {
	_, _, err := DecodeAddress(addr)
	return err == nil
}

func prefixBytes(prefix uint16) []byte {
	if prefix < 64 {
		return []byte{byte(prefix)}
	}
	first := byte((prefix&0b0000_0000_1111_1100)>>2) | 0b0100_0000
	second := byte(prefix>>8) | byte(prefix&0b11)<<6
	return []byte{first, second}
}

func ss58Checksum(data []byte) ([]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	h.Write(ss58Context)
	h.Write(data)
	return h.Sum(nil), nil
}
