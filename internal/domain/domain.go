// Package domain owns the current key chain and tag and gates which pass
// (record or replay) may run.
//
// Transitions:
//
//	State      Activate                  DeActivate
//	Clean      Recording (keys present)  Clean
//	Recording  Clean                     Clean
//	Loaded     Replaying (keys present)  Loaded
//	Replaying  Loaded                    Loaded
//
// A Machine is single-writer: callers serialize mutations.
package domain

import (
	"fmt"
	"log/slog"

	"github.com/barnettlynn/graboid/pkg/mfclassic"
)

// Persistence stores the key chain and tag. Implemented by store.Store.
type Persistence interface {
	HasTag() (bool, error)
	HasKeyChain() (bool, error)
	LoadTag() (*mfclassic.Tag, error)
	LoadKeyChain() (*mfclassic.KeyChain, error)
	SaveTag(*mfclassic.Tag) error
	SaveKeyChain(*mfclassic.KeyChain) error
	DeleteTag() error
	DeleteKeyChain() error
}

// Observer is notified synchronously after every change.
// Observers are compared by identity, so use pointer types.
type Observer interface {
	OnStateChanged(State)
}

// Machine is the four-state record/replay controller.
type Machine struct {
	store     Persistence
	state     State
	keys      *mfclassic.KeyChain
	tag       *mfclassic.Tag
	observers []Observer
}

// New restores the saved key chain and tag. The machine starts Loaded if a
// tag was saved, else Clean.
func New(p Persistence) (*Machine, error) {
	m := &Machine{store: p, state: Clean}

	hasKeys, err := p.HasKeyChain()
	if err != nil {
		return nil, err
	}
	if hasKeys {
		if m.keys, err = p.LoadKeyChain(); err != nil {
			return nil, fmt.Errorf("restore key chain: %w", err)
		}
	}

	hasTag, err := p.HasTag()
	if err != nil {
		return nil, err
	}
	if hasTag {
		if m.tag, err = p.LoadTag(); err != nil {
			return nil, fmt.Errorf("restore tag: %w", err)
		}
		m.state = Loaded
	}

	slog.Debug("state restored", "state", m.state, "keys", m.keys != nil, "tag", m.tag != nil)
	return m, nil
}

// State returns the current mode.
func (m *Machine) State() State { return m.state }

// Keys returns the active key chain or nil.
func (m *Machine) Keys() *mfclassic.KeyChain { return m.keys }

// Tag returns the loaded tag or nil.
func (m *Machine) Tag() *mfclassic.Tag { return m.tag }

func (m *Machine) HasKeys() bool { return m.keys != nil }
func (m *Machine) HasTag() bool  { return m.tag != nil }

// Activate moves along the activate column of the transition table.
// Arming a pass without a key chain is a no-op.
func (m *Machine) Activate() {
	tr := transitions[m.state]
	if tr.needsKeys && m.keys == nil {
		slog.Debug("activate ignored, no key chain", "state", m.state)
		return
	}
	m.moveTo(tr.activate)
}

// DeActivate moves along the deactivate column of the transition table.
func (m *Machine) DeActivate() {
	m.moveTo(transitions[m.state].deactivate)
}

func (m *Machine) moveTo(next State) {
	if next == m.state {
		return
	}
	slog.Debug("state change", "from", m.state, "to", next)
	m.state = next
	m.notify()
}

// SetKeys replaces the key chain. The tag is always dropped. On a save
// failure the machine is left with no keys and no tag.
func (m *Machine) SetKeys(k *mfclassic.KeyChain) error {
	defer m.notify()

	if err := m.clearKeysAndTag(); err != nil {
		return err
	}
	if err := m.store.SaveKeyChain(k); err != nil {
		_ = m.store.DeleteKeyChain()
		return fmt.Errorf("save key chain: %w", err)
	}
	m.keys = k
	slog.Info("key chain installed", "geometry", k.Geometry().String())
	return nil
}

// ClearKeys deletes the key chain and the tag and returns to Clean.
func (m *Machine) ClearKeys() error {
	defer m.notify()
	return m.clearKeysAndTag()
}

func (m *Machine) clearKeysAndTag() error {
	m.keys = nil
	m.tag = nil
	m.state = Clean
	if err := m.store.DeleteTag(); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if err := m.store.DeleteKeyChain(); err != nil {
		return fmt.Errorf("delete key chain: %w", err)
	}
	return nil
}

// SetTag replaces the recorded tag and moves to Loaded. On a save failure
// the machine is left with no tag in Clean.
func (m *Machine) SetTag(t *mfclassic.Tag) error {
	defer m.notify()

	if err := m.clearTag(); err != nil {
		return err
	}
	if err := m.store.SaveTag(t); err != nil {
		_ = m.store.DeleteTag()
		return fmt.Errorf("save tag: %w", err)
	}
	m.tag = t
	m.state = Loaded
	slog.Info("tag recorded", "uid", t.UIDString(), "geometry", t.Geometry().String())
	return nil
}

// ClearTag deletes the recorded tag and returns to Clean.
func (m *Machine) ClearTag() error {
	defer m.notify()
	return m.clearTag()
}

func (m *Machine) clearTag() error {
	m.tag = nil
	m.state = Clean
	if err := m.store.DeleteTag(); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// FuseTagACL applies the irreversible ACL fuse to the loaded tag and saves it.
// On failure the previous tag stays loaded and saved.
func (m *Machine) FuseTagACL() error {
	if m.tag == nil {
		return fmt.Errorf("no tag loaded")
	}
	fused := mfclassic.NewTag(m.tag.Geometry())
	for b := 0; b < fused.BlockCount(); b++ {
		fused.SetBlock(b, m.tag.Block(b))
	}
	if err := fused.FuseACL(); err != nil {
		return err
	}
	if err := m.store.SaveTag(fused); err != nil {
		return fmt.Errorf("save tag: %w", err)
	}
	m.tag = fused
	m.notify()
	return nil
}

// Register adds o to the end of the notification order. Registering the
// same observer twice has no effect.
func (m *Machine) Register(o Observer) {
	for _, existing := range m.observers {
		if existing == o {
			return
		}
	}
	m.observers = append(m.observers, o)
}

// Unregister removes o. Unknown observers are ignored.
func (m *Machine) Unregister(o Observer) {
	for i, existing := range m.observers {
		if existing == o {
			m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
			return
		}
	}
}

func (m *Machine) notify() {
	observers := append([]Observer(nil), m.observers...)
	for _, o := range observers {
		o.OnStateChanged(m.state)
	}
}
