package mfclassic

import "fmt"

// Card abstracts card transmit behavior for real PC/SC cards and test doubles.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Transmit sends an APDU to the card and extracts the status word.
// Returns (response_data, status_word, error).
// The response data does NOT include the trailing SW bytes.
func Transmit(card Card, apdu []byte) ([]byte, uint16, error) {
	resp, err := card.Transmit(apdu)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("short response: %d bytes", len(resp))
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// GetUID retrieves the card UID via the GET DATA pseudo-APDU (FF CA 00 00).
// Tries with Le=0x00 (wildcard) and Le=0x04 (specific 4-byte UID length).
func GetUID(card Card) ([]byte, error) {
	for _, le := range []byte{0x00, UIDSize} {
		apdu := []byte{0xFF, 0xCA, 0x00, 0x00, le}
		data, sw, err := Transmit(card, apdu)
		if err == nil && SwOK(sw) && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("UID not available via GET DATA")
}

// Transport is the sector/block view of a MIFARE Classic card that the
// Engine drives. A pass always runs Connect, some operations, then Close.
type Transport interface {
	Connect() error
	Close() error

	SectorCount() int
	SectorToBlock(sector int) int
	BlockCountInSector(sector int) int

	// AuthenticateSectorWithKeyA returns false (and a nil error) when the
	// card rejects the key. A non-nil error means the link failed.
	AuthenticateSectorWithKeyA(sector int, key Key) (bool, error)
	AuthenticateSectorWithKeyB(sector int, key Key) (bool, error)

	ReadBlock(block int) ([]byte, error)
	WriteBlock(block int, data []byte) error
}

// ProgressFunc receives a percentage in [0,100] as a pass advances.
type ProgressFunc func(percent int)
