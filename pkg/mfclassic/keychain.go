package mfclassic

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// keyFilePadding fills a serialized key chain up to MaxSectorCount lines.
const keyFilePadding = "#PADINGPADINGPADINGPADING"

// Key is a 6-byte MIFARE Classic sector key.
type Key [KeySize]byte

// ParseKey decodes a 12-character hex string.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != KeySize*2 {
		return k, formatErrorf("key must be %d hex chars, got %d", KeySize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, formatErrorf("invalid hex key %q: %v", s, err)
	}
	copy(k[:], b)
	return k, nil
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// KeyChain maps every sector of one geometry to its A and B keys.
type KeyChain struct {
	geometry Geometry
	keysA    []Key
	keysB    []Key
}

// NewKeyChain creates a key chain for g with every key set to six zero bytes.
func NewKeyChain(g Geometry) *KeyChain {
	return &KeyChain{
		geometry: g,
		keysA:    make([]Key, g.SectorCount()),
		keysB:    make([]Key, g.SectorCount()),
	}
}

// Geometry returns the geometry the chain was built for.
func (k *KeyChain) Geometry() Geometry { return k.geometry }

// SectorCount returns the number of key pairs, zero for a nil chain.
func (k *KeyChain) SectorCount() int {
	if k == nil {
		return 0
	}
	return len(k.keysA)
}

// KeyA returns the A key of a sector. Panics if sector is out of range.
func (k *KeyChain) KeyA(sector int) Key {
	k.checkSector(sector)
	return k.keysA[sector]
}

// KeyB returns the B key of a sector. Panics if sector is out of range.
func (k *KeyChain) KeyB(sector int) Key {
	k.checkSector(sector)
	return k.keysB[sector]
}

// SetKeyA replaces the A key of a sector. Panics if sector is out of range.
func (k *KeyChain) SetKeyA(sector int, key Key) {
	k.checkSector(sector)
	k.keysA[sector] = key
}

// SetKeyB replaces the B key of a sector. Panics if sector is out of range.
func (k *KeyChain) SetKeyB(sector int, key Key) {
	k.checkSector(sector)
	k.keysB[sector] = key
}

// Covers reports whether the chain holds a key pair for each of sectors sectors.
func (k *KeyChain) Covers(sectors int) bool {
	return k.SectorCount() >= sectors
}

// Equal reports whether both chains have the same geometry and keys.
func (k *KeyChain) Equal(o *KeyChain) bool {
	if k == nil || o == nil {
		return k == o
	}
	if k.geometry != o.geometry {
		return false
	}
	for s := range k.keysA {
		if k.keysA[s] != o.keysA[s] || k.keysB[s] != o.keysB[s] {
			return false
		}
	}
	return true
}

func (k *KeyChain) checkSector(sector int) {
	if sector < 0 || sector >= len(k.keysA) {
		panic(fmt.Sprintf("mfclassic: sector %d out of range [0,%d)", sector, len(k.keysA)))
	}
}

// ReadKeyChain parses the text key-file format.
//
// Format:
//   - Blank lines and lines starting with '#' are ignored
//   - Every other line is "<12 hex A> <12 hex B>" for one sector, ascending
//   - Parsing stops after MaxSectorCount sectors
//   - The sector count must match a supported geometry
func ReadKeyChain(r io.Reader) (*KeyChain, error) {
	keysA := make([]Key, 0, MaxSectorCount)
	keysB := make([]Key, 0, MaxSectorCount)

	scanner := bufio.NewScanner(r)
	line := 0
	for len(keysA) < MaxSectorCount && scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		ab := strings.Split(text, " ")
		if len(ab) != 2 {
			return nil, formatErrorf("line %d: expected 2 keys, got %d fields", line, len(ab))
		}
		a, err := ParseKey(ab[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: key A: %w", line, err)
		}
		b, err := ParseKey(ab[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: key B: %w", line, err)
		}
		keysA = append(keysA, a)
		keysB = append(keysB, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	g, err := LookupGeometry(len(keysA))
	if err != nil {
		return nil, fmt.Errorf("invalid key file: %w", err)
	}
	return &KeyChain{geometry: g, keysA: keysA, keysB: keysB}, nil
}

// WriteKeyChain serializes k in the text key-file format, padded with
// comment lines so every file has MaxSectorCount lines.
func WriteKeyChain(w io.Writer, k *KeyChain) error {
	bw := bufio.NewWriter(w)
	for s := 0; s < k.SectorCount(); s++ {
		if _, err := fmt.Fprintf(bw, "%s %s\n", k.keysA[s], k.keysB[s]); err != nil {
			return err
		}
	}
	for i := k.SectorCount(); i < MaxSectorCount; i++ {
		if _, err := bw.WriteString(keyFilePadding + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
