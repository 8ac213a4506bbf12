package domain

import (
	"errors"
	"testing"

	"github.com/barnettlynn/graboid/pkg/mfclassic"
)

type memStore struct {
	keys *mfclassic.KeyChain
	tag  *mfclassic.Tag

	saveKeysErr error
	saveTagErr  error
	deletes     []string
}

func (s *memStore) HasTag() (bool, error)      { return s.tag != nil, nil }
func (s *memStore) HasKeyChain() (bool, error) { return s.keys != nil, nil }

func (s *memStore) LoadTag() (*mfclassic.Tag, error) {
	if s.tag == nil {
		return nil, errors.New("no tag")
	}
	return s.tag, nil
}

func (s *memStore) LoadKeyChain() (*mfclassic.KeyChain, error) {
	if s.keys == nil {
		return nil, errors.New("no keys")
	}
	return s.keys, nil
}

func (s *memStore) SaveTag(t *mfclassic.Tag) error {
	if s.saveTagErr != nil {
		return s.saveTagErr
	}
	s.tag = t
	return nil
}

func (s *memStore) SaveKeyChain(k *mfclassic.KeyChain) error {
	if s.saveKeysErr != nil {
		return s.saveKeysErr
	}
	s.keys = k
	return nil
}

func (s *memStore) DeleteTag() error {
	s.deletes = append(s.deletes, "tag")
	s.tag = nil
	return nil
}

func (s *memStore) DeleteKeyChain() error {
	s.deletes = append(s.deletes, "keys")
	s.keys = nil
	return nil
}

type recorder struct {
	states []State
}

func (r *recorder) OnStateChanged(s State) { r.states = append(r.states, s) }

func newMachine(t *testing.T, s *memStore) *Machine {
	t.Helper()
	m, err := New(s)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return m
}

func TestInitialState(t *testing.T) {
	m := newMachine(t, &memStore{})
	if m.State() != Clean || m.HasKeys() || m.HasTag() {
		t.Fatalf("expected empty Clean machine, got %s", m.State())
	}

	m = newMachine(t, &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K), tag: mfclassic.NewTag(mfclassic.Geometry1K)})
	if m.State() != Loaded || !m.HasKeys() || !m.HasTag() {
		t.Fatalf("expected restored Loaded machine, got %s", m.State())
	}
}

func TestTransitionTable(t *testing.T) {
	keys := mfclassic.NewKeyChain(mfclassic.Geometry1K)
	tag := mfclassic.NewTag(mfclassic.Geometry1K)

	m := newMachine(t, &memStore{keys: keys})
	m.Activate()
	if m.State() != Recording {
		t.Fatalf("expected Recording, got %s", m.State())
	}
	m.Activate()
	if m.State() != Clean {
		t.Fatalf("expected Clean, got %s", m.State())
	}
	m.Activate()
	m.DeActivate()
	if m.State() != Clean {
		t.Fatalf("expected Clean after DeActivate, got %s", m.State())
	}
	m.DeActivate()
	if m.State() != Clean {
		t.Fatalf("expected DeActivate from Clean to be a no-op, got %s", m.State())
	}

	m = newMachine(t, &memStore{keys: keys, tag: tag})
	m.Activate()
	if m.State() != Replaying {
		t.Fatalf("expected Replaying, got %s", m.State())
	}
	m.DeActivate()
	if m.State() != Loaded {
		t.Fatalf("expected Loaded, got %s", m.State())
	}
	m.Activate()
	m.Activate()
	if m.State() != Loaded {
		t.Fatalf("expected Loaded after second Activate, got %s", m.State())
	}
	m.DeActivate()
	if m.State() != Loaded {
		t.Fatalf("expected DeActivate from Loaded to be a no-op, got %s", m.State())
	}
}

func TestActivateWithoutKeysIsNoOp(t *testing.T) {
	rec := &recorder{}
	m := newMachine(t, &memStore{})
	m.Register(rec)
	m.Activate()
	if m.State() != Clean {
		t.Fatalf("expected Clean, got %s", m.State())
	}

	m = newMachine(t, &memStore{tag: mfclassic.NewTag(mfclassic.MiniGeometry)})
	m.Register(rec)
	m.Activate()
	if m.State() != Loaded {
		t.Fatalf("expected Loaded, got %s", m.State())
	}
	if len(rec.states) != 0 {
		t.Fatalf("expected no notifications, got %v", rec.states)
	}
}

func TestSetKeysDropsTagAndNotifiesOnce(t *testing.T) {
	s := &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K), tag: mfclassic.NewTag(mfclassic.Geometry1K)}
	m := newMachine(t, s)
	rec := &recorder{}
	m.Register(rec)

	next := mfclassic.NewKeyChain(mfclassic.Geometry4K)
	if err := m.SetKeys(next); err != nil {
		t.Fatalf("SetKeys returned error: %v", err)
	}
	if m.Keys() != next || m.HasTag() || m.State() != Clean {
		t.Fatalf("expected new keys, no tag, Clean; got tag=%v state=%s", m.HasTag(), m.State())
	}
	if s.keys != next || s.tag != nil {
		t.Fatalf("expected store to hold only the new keys")
	}
	if len(rec.states) != 1 || rec.states[0] != Clean {
		t.Fatalf("expected one Clean notification, got %v", rec.states)
	}
}

func TestSetKeysRollsBackOnSaveFailure(t *testing.T) {
	s := &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K), saveKeysErr: errors.New("disk full")}
	m := newMachine(t, s)
	rec := &recorder{}
	m.Register(rec)

	if err := m.SetKeys(mfclassic.NewKeyChain(mfclassic.Geometry4K)); err == nil {
		t.Fatalf("expected save error")
	}
	if m.HasKeys() || m.HasTag() || s.keys != nil {
		t.Fatalf("expected cleared state after failure")
	}
	if len(rec.states) != 1 {
		t.Fatalf("expected one notification, got %v", rec.states)
	}
}

func TestSetTagMovesToLoaded(t *testing.T) {
	s := &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K)}
	m := newMachine(t, s)
	m.Activate()
	rec := &recorder{}
	m.Register(rec)

	tag := mfclassic.NewTag(mfclassic.Geometry1K)
	if err := m.SetTag(tag); err != nil {
		t.Fatalf("SetTag returned error: %v", err)
	}
	if m.State() != Loaded || m.Tag() != tag || s.tag != tag {
		t.Fatalf("expected Loaded with saved tag, got %s", m.State())
	}
	if len(rec.states) != 1 || rec.states[0] != Loaded {
		t.Fatalf("expected one Loaded notification, got %v", rec.states)
	}
	if !m.HasKeys() {
		t.Fatalf("SetTag must keep the key chain")
	}
}

func TestSetTagRollsBackOnSaveFailure(t *testing.T) {
	old := mfclassic.NewTag(mfclassic.Geometry1K)
	s := &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K), tag: old, saveTagErr: errors.New("disk full")}
	m := newMachine(t, s)

	if err := m.SetTag(mfclassic.NewTag(mfclassic.Geometry1K)); err == nil {
		t.Fatalf("expected save error")
	}
	if m.HasTag() || s.tag != nil || m.State() != Clean {
		t.Fatalf("expected cleared tag in Clean, got %s", m.State())
	}
}

func TestClearKeysAndClearTag(t *testing.T) {
	s := &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K), tag: mfclassic.NewTag(mfclassic.Geometry1K)}
	m := newMachine(t, s)
	rec := &recorder{}
	m.Register(rec)

	if err := m.ClearTag(); err != nil {
		t.Fatalf("ClearTag returned error: %v", err)
	}
	if m.State() != Clean || m.HasTag() || !m.HasKeys() {
		t.Fatalf("expected Clean with keys and no tag")
	}
	if err := m.ClearKeys(); err != nil {
		t.Fatalf("ClearKeys returned error: %v", err)
	}
	if m.HasKeys() || s.keys != nil {
		t.Fatalf("expected keys cleared")
	}
	if len(rec.states) != 2 {
		t.Fatalf("expected two notifications, got %v", rec.states)
	}
}

func TestFuseTagACLPersistsFusedTag(t *testing.T) {
	s := &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K), tag: mfclassic.NewTag(mfclassic.Geometry1K)}
	m := newMachine(t, s)

	if err := m.FuseTagACL(); err != nil {
		t.Fatalf("FuseTagACL returned error: %v", err)
	}
	tr := s.tag.Block(mfclassic.TrailerBlock(0))
	if tr[6] != 0x80 || tr[7] != 0x88 || tr[8] != 0x00 {
		t.Fatalf("expected fused trailer, got % X", tr[6:9])
	}
	if m.State() != Loaded {
		t.Fatalf("expected Loaded, got %s", m.State())
	}

	s.saveTagErr = errors.New("disk full")
	before := m.Tag()
	if err := m.FuseTagACL(); err == nil {
		t.Fatalf("expected save error")
	}
	if m.Tag() != before {
		t.Fatalf("expected previous tag kept on failure")
	}
}

func TestObserversNotifiedInRegistrationOrder(t *testing.T) {
	m := newMachine(t, &memStore{keys: mfclassic.NewKeyChain(mfclassic.Geometry1K)})

	var order []string
	first := &orderObserver{name: "first", order: &order}
	second := &orderObserver{name: "second", order: &order}
	m.Register(first)
	m.Register(second)
	m.Register(first)

	m.Activate()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}

	m.Unregister(first)
	m.Activate()
	if len(order) != 3 || order[2] != "second" {
		t.Fatalf("expected only second after unregister, got %v", order)
	}
}

type orderObserver struct {
	name  string
	order *[]string
}

func (o *orderObserver) OnStateChanged(State) { *o.order = append(*o.order, o.name) }
