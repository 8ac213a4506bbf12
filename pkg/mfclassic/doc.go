/*
Package mfclassic records and replays NXP MIFARE Classic cards.

It provides:
  - The four supported geometries (Mini, 1K, 2K, 4K) and block arithmetic
  - Key chains (per-sector A/B keys) and their text file format
  - Tags (full block images) and their binary file format
  - The ACL fuse transform over sector trailers
  - The protocol Engine (Read, Write, TestKeys) over any Transport
  - A PC/SC Transport for ACR122-style readers

# Geometry

	Geometry   Sectors  Blocks
	Mini       5        20
	1K         16       64
	2K         32       128
	4K         40       256

Sectors 0-31 hold 4 blocks. Sectors 32-39 (4K only) hold 16 blocks, so the
first extended sector starts at block 128.

# Sector Trailer

The last block of every sector:

	bytes 0-5    key A (reads back as zeros)
	bytes 6-8    access bits
	byte  9      user data
	bytes 10-15  key B (reads back as zeros unless readable by the ACL)

Access bits encode C1 C2 C3 for each of the four block groups, each stored
once inverted and once plain:

	byte 6 = ~C2[3..0] | ~C1[3..0]
	byte 7 =  C1[3..0] | ~C3[3..0]
	byte 8 =  C3[3..0] |  C2[3..0]

Bit 3 (low nibble) and bit 7 (high nibble) belong to the trailer itself.
Engine.Read rebuilds key bytes from the key chain before storing the trailer.

# Key File Format

ASCII, one sector per line, ascending:

	<12 hex key A> <12 hex key B>

Blank lines and lines starting with '#' are skipped. The number of key lines
must be 5, 16, 32 or 40. WriteKeyChain pads with "#PADINGPADINGPADINGPADING"
lines to 40 lines in total.

# Tag File Format

	offset 0       sector count (5, 16, 32 or 40)
	offset 1       blocks, 16 bytes each, ascending
	...            zero padding up to offset 4097

# Reader Commands (PC/SC pseudo-APDUs)

	LOAD KEY               FF 82 00 <slot> 06 <key(6)>
	GENERAL AUTHENTICATE   FF 86 00 00 05 01 00 <block> <60|61> <slot>
	READ BINARY            FF B0 00 <block> 10
	UPDATE BINARY          FF D6 00 <block> 10 <data(16)>
	GET DATA (UID)         FF CA 00 00 00

0x60 selects key A, 0x61 key B. SW=6300 on GENERAL AUTHENTICATE means the
card refused the key.

The geometry is read from the card-name bytes of the PC/SC storage card ATR:

	3B 8F 80 01 80 4F 0C A0 00 00 03 06 <SS> <C0 C1> 00 00 00 00 <TCK>

	0001 -> 1K   0002 -> 4K   0026 -> Mini   0036 -> 2K (Plus SL1)   0037 -> 4K (Plus SL1)

# Errors

Every error wraps one of ErrConfiguration, ErrAuthentication or ErrFormat, or
a reader failure (*SWError, transport error). Use IsConfigurationError,
IsAuthError and IsFormatError to classify.
*/
package mfclassic
