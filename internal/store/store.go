// Package store persists the key chain and the recorded tag in a working
// directory, encrypted with a password-derived key.
//
// Directory layout:
//
//	salt   8 raw bytes, created on first Open
//	keys   encrypted key-chain text
//	tag    encrypted tag dump
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/barnettlynn/graboid/pkg/cryptio"
	"github.com/barnettlynn/graboid/pkg/mfclassic"
)

const (
	SaltFile = "salt"
	KeysFile = "keys"
	TagFile  = "tag"
)

// ErrStorageUnavailable is returned when the working directory is missing,
// not a directory, or not writable.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Store is the encrypted persistence for one working directory.
type Store struct {
	dir    string
	cipher *cryptio.Cipher
}

type options struct {
	random cryptio.RandomSource
}

// Option configures Open.
type Option func(*options)

// WithRandom sets the source used for the salt and every IV.
func WithRandom(r cryptio.RandomSource) Option {
	return func(o *options) { o.random = r }
}

// Open loads the salt in dir (creating it on first use) and derives the
// session key from password.
func Open(password []byte, dir string, opts ...Option) (*Store, error) {
	o := options{random: cryptio.DefaultRandom()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{dir: dir}
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}

	salt, err := s.loadOrCreateSalt(o.random)
	if err != nil {
		return nil, err
	}
	c, err := cryptio.New(password, salt, cryptio.WithRandom(o.random))
	if err != nil {
		return nil, err
	}
	s.cipher = c
	return s, nil
}

// Dir returns the working directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) loadOrCreateSalt(r cryptio.RandomSource) ([]byte, error) {
	p := s.path(SaltFile)
	salt, err := os.ReadFile(p)
	switch {
	case err == nil:
		if len(salt) != cryptio.SaltSize {
			return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", mfclassic.ErrFormat, p, cryptio.SaltSize, len(salt))
		}
		return salt, nil
	case errors.Is(err, os.ErrNotExist):
		salt, err = cryptio.NewSalt(r)
		if err != nil {
			return nil, err
		}
		if err := s.writeAtomic(SaltFile, salt); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
		slog.Info("created salt", "path", p)
		return salt, nil
	default:
		return nil, fmt.Errorf("read salt: %w", err)
	}
}

// checkAvailable verifies that dir exists, is a directory and accepts new files.
func (s *Store) checkAvailable() error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStorageUnavailable, s.dir)
	}
	probe, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) exists(name string) (bool, error) {
	if err := s.checkAvailable(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// HasTag reports whether a tag has been saved.
func (s *Store) HasTag() (bool, error) { return s.exists(TagFile) }

// HasKeyChain reports whether a key chain has been saved.
func (s *Store) HasKeyChain() (bool, error) { return s.exists(KeysFile) }

// LoadTag decrypts and parses the saved tag.
func (s *Store) LoadTag() (*mfclassic.Tag, error) {
	plain, err := s.load(TagFile)
	if err != nil {
		return nil, err
	}
	tag, err := mfclassic.ReadTag(bytes.NewReader(plain))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", TagFile, err)
	}
	return tag, nil
}

// LoadKeyChain decrypts and parses the saved key chain.
func (s *Store) LoadKeyChain() (*mfclassic.KeyChain, error) {
	plain, err := s.load(KeysFile)
	if err != nil {
		return nil, err
	}
	k, err := mfclassic.ReadKeyChain(bytes.NewReader(plain))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", KeysFile, err)
	}
	return k, nil
}

// SaveTag serializes and encrypts t, replacing any saved tag.
func (s *Store) SaveTag(t *mfclassic.Tag) error {
	var plain bytes.Buffer
	if err := mfclassic.WriteTag(&plain, t); err != nil {
		return err
	}
	return s.save(TagFile, &plain)
}

// SaveKeyChain serializes and encrypts k, replacing any saved key chain.
func (s *Store) SaveKeyChain(k *mfclassic.KeyChain) error {
	var plain bytes.Buffer
	if err := mfclassic.WriteKeyChain(&plain, k); err != nil {
		return err
	}
	return s.save(KeysFile, &plain)
}

// DeleteTag removes the saved tag. Missing files are not an error.
func (s *Store) DeleteTag() error { return s.remove(TagFile) }

// DeleteKeyChain removes the saved key chain. Missing files are not an error.
func (s *Store) DeleteKeyChain() error { return s.remove(KeysFile) }

// ImportKeyChain parses an unencrypted key file. Nothing is saved.
func (s *Store) ImportKeyChain(r io.Reader) (*mfclassic.KeyChain, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	return mfclassic.ReadKeyChain(r)
}

// ImportKeyChainFile parses an unencrypted key file from disk.
func (s *Store) ImportKeyChainFile(path string) (*mfclassic.KeyChain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()
	k, err := s.ImportKeyChain(f)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	return k, nil
}

func (s *Store) load(name string) ([]byte, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	var plain bytes.Buffer
	if err := s.cipher.Decrypt(&plain, f); err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", name, err)
	}
	return plain.Bytes(), nil
}

func (s *Store) save(name string, plain io.Reader) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	var enc bytes.Buffer
	if err := s.cipher.Encrypt(&enc, plain); err != nil {
		return fmt.Errorf("encrypt %s: %w", name, err)
	}
	if err := s.writeAtomic(name, enc.Bytes()); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	slog.Debug("saved", "file", name, "bytes", enc.Len())
	return nil
}

// writeAtomic writes data to a temp file in the working directory and
// renames it over name, so readers never see a truncated file.
func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path(name))
}

func (s *Store) remove(name string) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}
