package mfclassic

import (
	"fmt"
	"log/slog"
)

// Engine transfers whole tags between a Transport and memory using one key chain.
// Every pass opens exactly one connection and closes it on every exit path.
type Engine struct {
	transport Transport
	keys      *KeyChain
	progress  ProgressFunc
}

// NewEngine creates an engine. progress may be nil.
func NewEngine(transport Transport, keys *KeyChain, progress ProgressFunc) *Engine {
	return &Engine{transport: transport, keys: keys, progress: progress}
}

type keyAttempt struct {
	label string
	auth  func(sector int, key Key) (bool, error)
	key   func(sector int) Key
}

// Read records every block of the card. Trailer key bytes are rebuilt from
// the key chain because the card never returns them.
func (e *Engine) Read() (*Tag, error) {
	cardSectors := e.transport.SectorCount()
	if !e.keys.Covers(cardSectors) {
		return nil, e.insufficientKeys("card", cardSectors)
	}
	g, err := LookupGeometry(cardSectors)
	if err != nil {
		return nil, err
	}
	tag := NewTag(g)

	if err := e.transport.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer e.close()

	attempts := []keyAttempt{
		{label: "A", auth: e.transport.AuthenticateSectorWithKeyA, key: e.keys.KeyA},
		{label: "B", auth: e.transport.AuthenticateSectorWithKeyB, key: e.keys.KeyB},
	}

	total := g.BlockCount()
	done := 0
	for sector := 0; sector < cardSectors; sector++ {
		if err := e.authenticate(sector, "read", attempts); err != nil {
			return nil, err
		}

		first := e.transport.SectorToBlock(sector)
		count := e.transport.BlockCountInSector(sector)
		for b := first; b < first+count; b++ {
			data, err := e.transport.ReadBlock(b)
			if err != nil {
				return nil, fmt.Errorf("read block %d: %w", b, err)
			}
			if len(data) != BlockSize {
				return nil, fmt.Errorf("read block %d: got %d bytes", b, len(data))
			}
			if b == first+count-1 {
				ka, kb := e.keys.KeyA(sector), e.keys.KeyB(sector)
				copy(data[0:KeySize], ka[:])
				copy(data[BlockSize-KeySize:], kb[:])
			}
			tag.SetBlock(b, data)
			done++
			e.report(done, total)
		}
	}

	slog.Info("tag read", "uid", tag.UIDString(), "geometry", g.String())
	return tag, nil
}

// Write replays tag onto the card. Block 0 (UID and manufacturer data) is
// skipped; every other block, trailers included, is written verbatim.
func (e *Engine) Write(tag *Tag) error {
	tagSectors := tag.SectorCount()
	if !e.keys.Covers(tagSectors) {
		return e.insufficientKeys("tag", tagSectors)
	}
	if cardSectors := e.transport.SectorCount(); cardSectors < tagSectors {
		return fmt.Errorf("%w: card has %d sectors, tag needs %d", ErrConfiguration, cardSectors, tagSectors)
	}

	if err := e.transport.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer e.close()

	attempts := []keyAttempt{
		{label: "B", auth: e.transport.AuthenticateSectorWithKeyB, key: e.keys.KeyB},
		{label: "A", auth: e.transport.AuthenticateSectorWithKeyA, key: e.keys.KeyA},
	}

	total := tag.BlockCount()
	done := 0
	for sector := 0; sector < tagSectors; sector++ {
		if err := e.authenticate(sector, "write", attempts); err != nil {
			return err
		}

		first := e.transport.SectorToBlock(sector)
		count := e.transport.BlockCountInSector(sector)
		for b := first; b < first+count; b++ {
			if b != 0 {
				if err := e.transport.WriteBlock(b, tag.Block(b)); err != nil {
					return fmt.Errorf("write block %d: %w", b, err)
				}
			}
			done++
			e.report(done, total)
		}
	}

	slog.Info("tag written", "uid", tag.UIDString(), "geometry", tag.Geometry().String())
	return nil
}

// TestKeys reports whether both keys of every sector authenticate. No data
// is read or written. A chain too short for the card reports false without
// connecting.
func (e *Engine) TestKeys() (bool, error) {
	cardSectors := e.transport.SectorCount()
	if !e.keys.Covers(cardSectors) {
		slog.Warn("key chain too short for card", "keys", e.keys.SectorCount(), "card", cardSectors)
		return false, nil
	}

	if err := e.transport.Connect(); err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer e.close()

	for sector := 0; sector < cardSectors; sector++ {
		okA, err := e.transport.AuthenticateSectorWithKeyA(sector, e.keys.KeyA(sector))
		if err != nil {
			return false, fmt.Errorf("sector %d key A: %w", sector, err)
		}
		okB, err := e.transport.AuthenticateSectorWithKeyB(sector, e.keys.KeyB(sector))
		if err != nil {
			return false, fmt.Errorf("sector %d key B: %w", sector, err)
		}
		if !okA || !okB {
			slog.Info("key test failed", "sector", sector, "key_a", okA, "key_b", okB)
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) authenticate(sector int, op string, attempts []keyAttempt) error {
	for i, attempt := range attempts {
		ok, err := attempt.auth(sector, attempt.key(sector))
		if err != nil {
			return fmt.Errorf("sector %d key %s: %w", sector, attempt.label, err)
		}
		if ok {
			slog.Debug("sector authenticated", "op", op, "sector", sector, "key", attempt.label)
			return nil
		}
		if i < len(attempts)-1 {
			slog.Debug("auth attempt failed", "op", op, "sector", sector, "key", attempt.label)
		}
	}
	return &AuthError{Sector: sector, Op: op}
}

func (e *Engine) insufficientKeys(what string, sectors int) error {
	have := 0
	if e.keys != nil {
		have = e.keys.SectorCount()
	}
	return fmt.Errorf("%w: insufficient keys: %s has %d sectors, key chain has %d", ErrConfiguration, what, sectors, have)
}

func (e *Engine) close() {
	if err := e.transport.Close(); err != nil {
		slog.Warn("close failed", "error", err)
	}
}

// report publishes (done*100)/total so the last block reports 100.
func (e *Engine) report(done, total int) {
	if e.progress == nil || total == 0 {
		return
	}
	e.progress(done * 100 / total)
}
