package mfclassic

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ebfe/scard"
)

// Connection wraps a PC/SC card connection.
type Connection struct {
	ctx       *scard.Context
	Card      *scard.Card
	Reader    string
	ReaderIdx int
}

// Connect establishes a connection to the card on a reader.
//
// Parameters:
//   - readerIndex: Index of the reader to use (0-based)
//
// Returns:
//   - Connection struct with context and card
//   - Error if connection fails
func Connect(readerIndex int) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}

	reader, err := selectReader(ctx, readerIndex)
	if err != nil {
		ctx.Release()
		return nil, err
	}

	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	return &Connection{
		ctx:       ctx,
		Card:      card,
		Reader:    reader,
		ReaderIdx: readerIndex,
	}, nil
}

func selectReader(ctx *scard.Context, readerIndex int) (string, error) {
	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		return "", fmt.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		return "", fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}
	return readers[readerIndex], nil
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	if c.Card != nil {
		_ = c.Card.Disconnect(scard.LeaveCard)
	}
	if c.ctx != nil {
		_ = c.ctx.Release()
	}
}

// Transmit sends an APDU to the card (implements Card interface).
func (c *Connection) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.Card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	return c.Card.Transmit(apdu)
}

// ATR returns the answer-to-reset reported by the reader.
func (c *Connection) ATR() ([]byte, error) {
	if c == nil || c.Card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	st, err := c.Card.Status()
	if err != nil {
		return nil, fmt.Errorf("card status: %w", err)
	}
	return st.Atr, nil
}

// WaitForCard blocks until a card is present on the reader, the timeout
// elapses or ctx is cancelled. A zero timeout waits until ctx is done.
func WaitForCard(ctx context.Context, readerIndex int, timeout time.Duration) error {
	sc, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("EstablishContext failed: %w", err)
	}
	defer sc.Release()

	reader, err := selectReader(sc, readerIndex)
	if err != nil {
		return err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	states := []scard.ReaderState{{
		Reader:       reader,
		CurrentState: scard.StateUnaware,
	}}
	slog.Debug("waiting for card", "reader", reader)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("no card presented on %q within %s", reader, timeout)
		}
		if err := sc.GetStatusChange(states, time.Second); err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			return fmt.Errorf("GetStatusChange: %w", err)
		}
		if states[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

// PC/SC part 3 ATR for contactless storage cards:
//
//	3B 8F 80 01 80 4F 0C <RID A0 00 00 03 06> <SS> <C0 C1> 00 00 00 00 <TCK>
//
// C0 C1 is the card name.
const (
	atrRIDOffset  = 7
	atrNameOffset = 13
	atrMinLength  = 15
)

var pcscRID = []byte{0xA0, 0x00, 0x00, 0x03, 0x06}

// GeometryFromATR maps the card-name bytes of a PC/SC storage-card ATR to a
// MIFARE Classic geometry.
func GeometryFromATR(atr []byte) (Geometry, error) {
	if len(atr) < atrMinLength || !bytes.Equal(atr[atrRIDOffset:atrRIDOffset+len(pcscRID)], pcscRID) {
		return Geometry{}, formatErrorf("ATR %s is not a PC/SC storage card", hex.EncodeToString(atr))
	}
	name := uint16(atr[atrNameOffset])<<8 | uint16(atr[atrNameOffset+1])
	switch name {
	case 0x0001:
		return Geometry1K, nil
	case 0x0002, 0x0037:
		return Geometry4K, nil
	case 0x0026:
		return MiniGeometry, nil
	case 0x0036:
		return Geometry2K, nil
	}
	return Geometry{}, formatErrorf("card name 0x%04X is not a supported MIFARE Classic", name)
}

// keySlot is the volatile reader key slot used for every authentication.
const keySlot = 0x00

// PCSCCard implements Transport on top of a PC/SC reader.
type PCSCCard struct {
	readerIndex int
	geometry    Geometry
	uid         []byte
	conn        *Connection
}

// Discover connects once to the card on readerIndex to learn its geometry and
// UID, then disconnects. The returned card reconnects on Connect.
func Discover(readerIndex int) (*PCSCCard, error) {
	conn, err := Connect(readerIndex)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	atr, err := conn.ATR()
	if err != nil {
		return nil, err
	}
	g, err := GeometryFromATR(atr)
	if err != nil {
		return nil, err
	}
	uid, err := GetUID(conn)
	if err != nil {
		return nil, err
	}

	slog.Debug("card discovered",
		"reader", conn.Reader,
		"atr", hex.EncodeToString(atr),
		"uid", hex.EncodeToString(uid),
		"geometry", g.String())

	return &PCSCCard{readerIndex: readerIndex, geometry: g, uid: uid}, nil
}

// Geometry returns the geometry derived from the ATR.
func (p *PCSCCard) Geometry() Geometry { return p.geometry }

// UID returns the UID read during discovery.
func (p *PCSCCard) UID() []byte { return append([]byte(nil), p.uid...) }

// Connect opens the per-pass connection.
func (p *PCSCCard) Connect() error {
	if p.conn != nil {
		return fmt.Errorf("already connected to %s", p.conn.Reader)
	}
	conn, err := Connect(p.readerIndex)
	if err != nil {
		return err
	}
	uid, err := GetUID(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if !bytes.Equal(uid, p.uid) {
		conn.Close()
		return fmt.Errorf("card changed: expected UID %x, got %x", p.uid, uid)
	}
	p.conn = conn
	return nil
}

// Close releases the per-pass connection. Safe to call when not connected.
func (p *PCSCCard) Close() error {
	p.conn.Close()
	p.conn = nil
	return nil
}

func (p *PCSCCard) SectorCount() int                  { return p.geometry.SectorCount() }
func (p *PCSCCard) SectorToBlock(sector int) int      { return SectorToBlock(sector) }
func (p *PCSCCard) BlockCountInSector(sector int) int { return BlocksInSector(sector) }

func (p *PCSCCard) AuthenticateSectorWithKeyA(sector int, key Key) (bool, error) {
	return p.authenticate(sector, KeyTypeA, key)
}

func (p *PCSCCard) AuthenticateSectorWithKeyB(sector int, key Key) (bool, error) {
	return p.authenticate(sector, KeyTypeB, key)
}

func (p *PCSCCard) authenticate(sector int, keyType byte, key Key) (bool, error) {
	if p.conn == nil {
		return false, fmt.Errorf("connection not established")
	}
	if err := LoadKey(p.conn, keySlot, key); err != nil {
		return false, err
	}
	return Authenticate(p.conn, TrailerBlock(sector), keyType, keySlot)
}

func (p *PCSCCard) ReadBlock(block int) ([]byte, error) {
	if p.conn == nil {
		return nil, fmt.Errorf("connection not established")
	}
	return ReadBinaryBlock(p.conn, block)
}

func (p *PCSCCard) WriteBlock(block int, data []byte) error {
	if p.conn == nil {
		return fmt.Errorf("connection not established")
	}
	return UpdateBinaryBlock(p.conn, block, data)
}
