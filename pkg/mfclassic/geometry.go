package mfclassic

// Block layout constants shared by every supported geometry.
const (
	BlockSize           = 16
	KeySize             = 6
	UIDSize             = 4
	blocksInSector      = 4
	blocksInExtSector   = 16
	firstExtendedSector = 32
	firstExtendedBlock  = firstExtendedSector * blocksInSector
	MaxSectorCount      = 40
	tagDataAreaSize     = 4096
	SerializedTagSize   = 1 + tagDataAreaSize
)

// Geometry is one of the four fixed MIFARE Classic shapes.
type Geometry struct {
	name    string
	sectors int
	blocks  int
}

// The supported geometries. Values are immutable; compare by value.
var (
	MiniGeometry = Geometry{name: "MIFARE Classic Mini", sectors: 5, blocks: 5 * blocksInSector}
	Geometry1K   = Geometry{name: "MIFARE Classic 1K", sectors: 16, blocks: 16 * blocksInSector}
	Geometry2K   = Geometry{name: "MIFARE Classic 2K", sectors: 32, blocks: 32 * blocksInSector}
	Geometry4K   = Geometry{name: "MIFARE Classic 4K", sectors: 40, blocks: 32*blocksInSector + 8*blocksInExtSector}
)

// Geometries lists the supported geometries in ascending size.
func Geometries() []Geometry {
	return []Geometry{MiniGeometry, Geometry1K, Geometry2K, Geometry4K}
}

// LookupGeometry returns the geometry with exactly n sectors.
// Any other sector count is a format error.
func LookupGeometry(n int) (Geometry, error) {
	switch n {
	case MiniGeometry.sectors:
		return MiniGeometry, nil
	case Geometry1K.sectors:
		return Geometry1K, nil
	case Geometry2K.sectors:
		return Geometry2K, nil
	case Geometry4K.sectors:
		return Geometry4K, nil
	}
	return Geometry{}, formatErrorf("unknown geometry with %d sectors", n)
}

// SectorCount returns the number of sectors.
func (g Geometry) SectorCount() int { return g.sectors }

// BlockCount returns the number of 16-byte blocks.
func (g Geometry) BlockCount() int { return g.blocks }

func (g Geometry) String() string {
	if g.name == "" {
		return "unknown geometry"
	}
	return g.name
}

// SectorToBlock returns the first block of a sector.
func SectorToBlock(sector int) int {
	if sector < firstExtendedSector {
		return sector * blocksInSector
	}
	return firstExtendedBlock + (sector-firstExtendedSector)*blocksInExtSector
}

// BlocksInSector returns 4 for sectors 0-31 and 16 for the extended sectors.
func BlocksInSector(sector int) int {
	if sector < firstExtendedSector {
		return blocksInSector
	}
	return blocksInExtSector
}

// TrailerBlock returns the sector trailer block number.
func TrailerBlock(sector int) int {
	return SectorToBlock(sector) + BlocksInSector(sector) - 1
}

// BlockToSector returns the sector holding a block.
func BlockToSector(block int) int {
	if block < firstExtendedBlock {
		return block / blocksInSector
	}
	return firstExtendedSector + (block-firstExtendedBlock)/blocksInExtSector
}
