package mfclassic

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
)

// Tag is the full block contents of one card.
type Tag struct {
	geometry Geometry
	blocks   [][BlockSize]byte
}

// NewTag creates an all-zero tag for g.
func NewTag(g Geometry) *Tag {
	return &Tag{
		geometry: g,
		blocks:   make([][BlockSize]byte, g.BlockCount()),
	}
}

// Geometry returns the tag geometry.
func (t *Tag) Geometry() Geometry { return t.geometry }

// SectorCount returns the number of sectors.
func (t *Tag) SectorCount() int { return t.geometry.SectorCount() }

// BlockCount returns the number of blocks.
func (t *Tag) BlockCount() int { return len(t.blocks) }

// Block returns a copy of a block. Panics if block is out of range.
func (t *Tag) Block(block int) []byte {
	t.checkBlock(block)
	out := make([]byte, BlockSize)
	copy(out, t.blocks[block][:])
	return out
}

// SetBlock replaces a block. Panics if block is out of range or data is not
// exactly BlockSize bytes.
func (t *Tag) SetBlock(block int, data []byte) {
	t.checkBlock(block)
	if len(data) != BlockSize {
		panic(fmt.Sprintf("mfclassic: block data must be %d bytes, got %d", BlockSize, len(data)))
	}
	copy(t.blocks[block][:], data)
}

// UID returns the first UIDSize bytes of block 0.
func (t *Tag) UID() []byte {
	uid := make([]byte, UIDSize)
	copy(uid, t.blocks[0][:UIDSize])
	return uid
}

// UIDString returns the UID as lower-case hex.
func (t *Tag) UIDString() string {
	return hex.EncodeToString(t.UID())
}

// Equal reports whether both tags have the same geometry and blocks.
func (t *Tag) Equal(o *Tag) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.geometry != o.geometry || len(t.blocks) != len(o.blocks) {
		return false
	}
	for i := range t.blocks {
		if t.blocks[i] != o.blocks[i] {
			return false
		}
	}
	return true
}

// FuseACL rewrites the access bits of every sector trailer so that keys can
// only be written with key B and the access bits can never change again.
// This cannot be undone once the tag is written to a card.
//
// Trailer layout:
//
//	bytes 0-5   key A
//	bytes 6-8   access bits (C1/C2/C3 per block, inverted copies)
//	byte  9     user data
//	bytes 10-15 key B
//
// The fuse sets the trailer's own condition to C1=1 C2=0 C3=0:
//
//	byte 6 bit 7 = ~C2  -> 1
//	byte 6 bit 3 = ~C1  -> 0
//	byte 7 bit 7 =  C1  -> 1
//	byte 7 bit 3 = ~C3  -> 1
//	byte 8 bit 7 =  C3  -> 0
//	byte 8 bit 3 =  C2  -> 0
func (t *Tag) FuseACL() error {
	switch t.geometry {
	case MiniGeometry, Geometry1K, Geometry2K:
		for b := blocksInSector - 1; b < t.geometry.BlockCount(); b += blocksInSector {
			t.fuseACLBlock(b)
		}
	case Geometry4K:
		for b := blocksInSector - 1; b < firstExtendedBlock; b += blocksInSector {
			t.fuseACLBlock(b)
		}
		for b := firstExtendedBlock + blocksInExtSector - 1; b < t.geometry.BlockCount(); b += blocksInExtSector {
			t.fuseACLBlock(b)
		}
	default:
		return fmt.Errorf("%w: cannot fuse ACL for %s", ErrFormat, t.geometry)
	}
	return nil
}

func (t *Tag) fuseACLBlock(block int) {
	tr := &t.blocks[block]
	tr[6] = (tr[6] | 0x80) & 0xF7
	tr[7] = tr[7] | 0x88
	tr[8] = tr[8] & 0x77
}

func (t *Tag) checkBlock(block int) {
	if block < 0 || block >= len(t.blocks) {
		panic(fmt.Sprintf("mfclassic: block %d out of range [0,%d)", block, len(t.blocks)))
	}
}

// ReadTag parses the binary tag dump format: one sector-count byte followed
// by every block. Trailing padding is not inspected.
func ReadTag(r io.Reader) (*Tag, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, formatErrorf("invalid tag data; missing type byte: %v", err)
	}
	g, err := LookupGeometry(int(hdr[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid tag data: %w", err)
	}

	t := NewTag(g)
	for i := range t.blocks {
		if _, err := io.ReadFull(r, t.blocks[i][:]); err != nil {
			return nil, formatErrorf("invalid tag data; underflow at block %d", i)
		}
	}
	return t, nil
}

// WriteTag serializes t in the binary dump format, zero padded so the block
// area is always tagDataAreaSize bytes regardless of geometry.
func WriteTag(w io.Writer, t *Tag) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(t.geometry.SectorCount())); err != nil {
		return err
	}
	for i := range t.blocks {
		if _, err := bw.Write(t.blocks[i][:]); err != nil {
			return err
		}
	}
	pad := make([]byte, tagDataAreaSize-len(t.blocks)*BlockSize)
	if _, err := bw.Write(pad); err != nil {
		return err
	}
	return bw.Flush()
}
