package mfclassic

import (
	"bytes"
	"errors"
	"testing"
)

// fakeTransport is an in-memory card that records every call.
type fakeTransport struct {
	geometry Geometry
	blocks   [][]byte
	keysA    []Key
	keysB    []Key

	connects int
	closes   int
	authed   int // sector currently authenticated, -1 if none
	authLog  []string
	written  []int

	readErr error
}

func newFakeTransport(g Geometry, keys *KeyChain) *fakeTransport {
	f := &fakeTransport{geometry: g, authed: -1}
	f.blocks = make([][]byte, g.BlockCount())
	for b := range f.blocks {
		f.blocks[b] = bytes.Repeat([]byte{byte(b)}, BlockSize)
	}
	for s := 0; s < g.SectorCount(); s++ {
		tr := f.blocks[TrailerBlock(s)]
		copy(tr[:KeySize], make([]byte, KeySize))
		copy(tr[BlockSize-KeySize:], make([]byte, KeySize))
		f.keysA = append(f.keysA, keys.KeyA(s))
		f.keysB = append(f.keysB, keys.KeyB(s))
	}
	return f
}

func (f *fakeTransport) Connect() error                    { f.connects++; return nil }
func (f *fakeTransport) Close() error                      { f.closes++; f.authed = -1; return nil }
func (f *fakeTransport) SectorCount() int                  { return f.geometry.SectorCount() }
func (f *fakeTransport) SectorToBlock(sector int) int      { return SectorToBlock(sector) }
func (f *fakeTransport) BlockCountInSector(sector int) int { return BlocksInSector(sector) }

func (f *fakeTransport) AuthenticateSectorWithKeyA(sector int, key Key) (bool, error) {
	f.authLog = append(f.authLog, "A")
	return f.auth(sector, key == f.keysA[sector]), nil
}

func (f *fakeTransport) AuthenticateSectorWithKeyB(sector int, key Key) (bool, error) {
	f.authLog = append(f.authLog, "B")
	return f.auth(sector, key == f.keysB[sector]), nil
}

func (f *fakeTransport) auth(sector int, ok bool) bool {
	if ok {
		f.authed = sector
	} else {
		f.authed = -1
	}
	return ok
}

func (f *fakeTransport) ReadBlock(block int) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if BlockToSector(block) != f.authed {
		return nil, errors.New("sector not authenticated")
	}
	return append([]byte(nil), f.blocks[block]...), nil
}

func (f *fakeTransport) WriteBlock(block int, data []byte) error {
	if BlockToSector(block) != f.authed {
		return errors.New("sector not authenticated")
	}
	f.blocks[block] = append([]byte(nil), data...)
	f.written = append(f.written, block)
	return nil
}

func TestReadRejectsShortKeyChainWithoutConnecting(t *testing.T) {
	card := newFakeTransport(Geometry1K, sampleKeyChain(Geometry1K))
	e := NewEngine(card, sampleKeyChain(MiniGeometry), nil)

	_, err := e.Read()
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if card.connects != 0 {
		t.Fatalf("expected no connect, got %d", card.connects)
	}
}

func TestReadRebuildsTrailerKeysAndReportsProgress(t *testing.T) {
	keys := sampleKeyChain(Geometry1K)
	card := newFakeTransport(Geometry1K, keys)

	var progress []int
	e := NewEngine(card, keys, func(p int) { progress = append(progress, p) })
	tag, err := e.Read()
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if card.connects != 1 || card.closes != 1 {
		t.Fatalf("expected one connect/close, got %d/%d", card.connects, card.closes)
	}
	if tag.Geometry() != Geometry1K {
		t.Fatalf("expected %s, got %s", Geometry1K, tag.Geometry())
	}

	for s := 0; s < 16; s++ {
		tr := tag.Block(TrailerBlock(s))
		ka, kb := keys.KeyA(s), keys.KeyB(s)
		if !bytes.Equal(tr[:6], ka[:]) || !bytes.Equal(tr[10:], kb[:]) {
			t.Fatalf("sector %d: trailer keys not rebuilt: % X", s, tr)
		}
		if !bytes.Equal(tr[6:10], card.blocks[TrailerBlock(s)][6:10]) {
			t.Fatalf("sector %d: access bytes changed", s)
		}
	}
	if !bytes.Equal(tag.Block(5), card.blocks[5]) {
		t.Fatalf("data block 5 mismatch")
	}

	if len(progress) != Geometry1K.BlockCount() {
		t.Fatalf("expected %d progress reports, got %d", Geometry1K.BlockCount(), len(progress))
	}
	if progress[len(progress)-1] != 100 {
		t.Fatalf("expected final progress 100, got %d", progress[len(progress)-1])
	}
}

func TestReadFallsBackToKeyB(t *testing.T) {
	keys := sampleKeyChain(MiniGeometry)
	card := newFakeTransport(MiniGeometry, keys)
	card.keysA[2] = Key{1, 2, 3, 4, 5, 6}

	if _, err := NewEngine(card, keys, nil).Read(); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	want := []string{"A", "A", "A", "B", "A", "A"}
	if len(card.authLog) != len(want) {
		t.Fatalf("expected auth sequence %v, got %v", want, card.authLog)
	}
	for i := range want {
		if card.authLog[i] != want[i] {
			t.Fatalf("expected auth sequence %v, got %v", want, card.authLog)
		}
	}
}

func TestReadAbortsOnDoubleAuthFailureAndCloses(t *testing.T) {
	keys := sampleKeyChain(MiniGeometry)
	card := newFakeTransport(MiniGeometry, keys)
	card.keysA[3] = Key{1}
	card.keysB[3] = Key{2}

	_, err := NewEngine(card, keys, nil).Read()
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Sector != 3 {
		t.Fatalf("expected sector 3 in auth error, got %v", err)
	}
	if card.closes != 1 {
		t.Fatalf("expected close on failure, got %d", card.closes)
	}
}

func TestReadClosesOnBlockError(t *testing.T) {
	keys := sampleKeyChain(MiniGeometry)
	card := newFakeTransport(MiniGeometry, keys)
	card.readErr = errors.New("link lost")

	if _, err := NewEngine(card, keys, nil).Read(); err == nil {
		t.Fatalf("expected read error")
	}
	if card.closes != 1 {
		t.Fatalf("expected close on failure, got %d", card.closes)
	}
}

func TestWriteSkipsUIDBlockAndWritesTrailers(t *testing.T) {
	keys := sampleKeyChain(Geometry1K)
	card := newFakeTransport(Geometry1K, keys)
	tag := sampleTag(Geometry1K)

	var last int
	if err := NewEngine(card, keys, func(p int) { last = p }).Write(tag); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(card.written) != Geometry1K.BlockCount()-1 {
		t.Fatalf("expected %d writes, got %d", Geometry1K.BlockCount()-1, len(card.written))
	}
	for i, b := range card.written {
		if b != i+1 {
			t.Fatalf("expected block %d at write %d, got %d", i+1, i, b)
		}
	}
	if bytes.Equal(card.blocks[0], tag.Block(0)) {
		t.Fatalf("block 0 must not be written")
	}
	if !bytes.Equal(card.blocks[TrailerBlock(5)], tag.Block(TrailerBlock(5))) {
		t.Fatalf("trailer not written verbatim")
	}
	if last != 100 {
		t.Fatalf("expected final progress 100, got %d", last)
	}
	if card.authLog[0] != "B" {
		t.Fatalf("expected key B first, got %v", card.authLog[:1])
	}
}

func TestWriteRejectsShortKeyChainWithoutConnecting(t *testing.T) {
	card := newFakeTransport(Geometry4K, sampleKeyChain(Geometry4K))
	e := NewEngine(card, sampleKeyChain(Geometry1K), nil)

	if err := e.Write(sampleTag(Geometry4K)); !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if card.connects != 0 {
		t.Fatalf("expected no connect, got %d", card.connects)
	}
}

func TestWriteFallsBackToKeyA(t *testing.T) {
	keys := sampleKeyChain(MiniGeometry)
	card := newFakeTransport(MiniGeometry, keys)
	card.keysB[1] = Key{9}

	if err := NewEngine(card, keys, nil).Write(sampleTag(MiniGeometry)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if card.authLog[1] != "B" || card.authLog[2] != "A" {
		t.Fatalf("expected B then A for sector 1, got %v", card.authLog)
	}
}

func TestTestKeys(t *testing.T) {
	keys := sampleKeyChain(Geometry4K)

	card := newFakeTransport(Geometry4K, keys)
	ok, err := NewEngine(card, keys, nil).TestKeys()
	if err != nil || !ok {
		t.Fatalf("expected keys to pass, got %v, %v", ok, err)
	}
	if card.closes != 1 {
		t.Fatalf("expected close, got %d", card.closes)
	}

	card = newFakeTransport(Geometry4K, keys)
	card.keysB[39] = Key{7}
	ok, err = NewEngine(card, keys, nil).TestKeys()
	if err != nil || ok {
		t.Fatalf("expected key B failure to report false, got %v, %v", ok, err)
	}

	card = newFakeTransport(Geometry4K, keys)
	ok, err = NewEngine(card, sampleKeyChain(Geometry2K), nil).TestKeys()
	if err != nil || ok {
		t.Fatalf("expected short chain to report false, got %v, %v", ok, err)
	}
	if card.connects != 0 {
		t.Fatalf("expected no connect for short chain, got %d", card.connects)
	}
}
