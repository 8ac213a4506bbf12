package mfclassic

import "fmt"

// Key selectors for the GENERAL AUTHENTICATE pseudo-APDU.
const (
	KeyTypeA byte = 0x60
	KeyTypeB byte = 0x61
)

// LoadKey stores a key in the reader's volatile key slot (FF 82 00 <slot> 06 <key>).
func LoadKey(card Card, slot byte, key Key) error {
	apdu := append([]byte{0xFF, 0x82, 0x00, slot, KeySize}, key[:]...)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0x82, SW: sw}
	}
	return nil
}

// Authenticate runs GENERAL AUTHENTICATE against block with the key held in
// slot. A card refusal (SW=6300) reports false with a nil error.
func Authenticate(card Card, block int, keyType byte, slot byte) (bool, error) {
	apdu := []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, byte(block >> 8), byte(block), keyType, slot}
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return false, fmt.Errorf("authenticate block %d: %w", block, err)
	}
	switch {
	case SwOK(sw):
		return true, nil
	case sw == SWOperationFailed:
		return false, nil
	default:
		return false, &SWError{Cmd: 0x86, SW: sw}
	}
}

// ReadBinaryBlock reads one 16-byte block (FF B0 00 <block> 10).
// The sector holding block must already be authenticated.
func ReadBinaryBlock(card Card, block int) ([]byte, error) {
	apdu := []byte{0xFF, 0xB0, byte(block >> 8), byte(block), BlockSize}
	data, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", block, err)
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0xB0, SW: sw}
	}
	if len(data) != BlockSize {
		return nil, fmt.Errorf("read block %d: got %d bytes", block, len(data))
	}
	return data, nil
}

// UpdateBinaryBlock writes one 16-byte block (FF D6 00 <block> 10 <data>).
func UpdateBinaryBlock(card Card, block int, data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("write block %d: data must be %d bytes, got %d", block, BlockSize, len(data))
	}
	apdu := append([]byte{0xFF, 0xD6, byte(block >> 8), byte(block), BlockSize}, data...)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return fmt.Errorf("write block %d: %w", block, err)
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0xD6, SW: sw}
	}
	return nil
}
