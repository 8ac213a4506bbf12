// Package cryptio encrypts and decrypts byte streams with a password-derived
// AES-256 key in CBC mode.
//
// Wire format:
//
//	IV(16) || AES-256-CBC(PKCS#7(plaintext))
//
// Key = PBKDF2-HMAC-SHA1(password, salt(8), 100 iterations, 32 bytes).
//
// Wrong passwords are detected by the padding check only. This is not
// authenticated encryption.
package cryptio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize   = 8
	IVSize     = aes.BlockSize
	KeySize    = 32
	Iterations = 100
	bufferSize = 1024
)

// ErrCrypto is wrapped by every failure caused by the ciphertext or the key:
// missing IV, bad block alignment, invalid padding.
var ErrCrypto = errors.New("crypto error")

// Cipher encrypts and decrypts streams under one derived key.
// A Cipher is safe for sequential reuse.
type Cipher struct {
	block  cipher.Block
	random RandomSource
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithRandom sets the IV source. Defaults to DefaultRandom().
func WithRandom(r RandomSource) Option {
	return func(c *Cipher) { c.random = r }
}

// New derives the key from password and salt.
func New(password, salt []byte, opts ...Option) (*Cipher, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrCrypto, SaltSize, len(salt))
	}
	key := pbkdf2.Key(password, salt, Iterations, KeySize, sha1.New)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	c := &Cipher{block: block}
	for _, opt := range opts {
		opt(c)
	}
	if c.random == nil {
		c.random = DefaultRandom()
	}
	return c, nil
}

// Encrypt writes a fresh IV followed by the encrypted contents of src.
func (c *Cipher) Encrypt(dst io.Writer, src io.Reader) error {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return fmt.Errorf("generate IV: %w", err)
	}
	if _, err := dst.Write(iv); err != nil {
		return err
	}
	mode := cipher.NewCBCEncrypter(c.block, iv)

	buf := make([]byte, bufferSize+aes.BlockSize)
	for {
		n, err := io.ReadFull(src, buf[:bufferSize])
		switch {
		case err == nil:
			mode.CryptBlocks(buf[:n], buf[:n])
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			final := pad(buf[:n], buf[:cap(buf)])
			mode.CryptBlocks(final, final)
			_, err := dst.Write(final)
			return err
		default:
			return err
		}
	}
}

// Decrypt reads the IV prefix and writes the decrypted contents of src to dst.
// Plaintext is written as it is decrypted, so on a padding failure dst may
// already hold garbage; callers that need all-or-nothing should buffer.
func (c *Cipher) Decrypt(dst io.Writer, src io.Reader) error {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return fmt.Errorf("%w: ciphertext too short for IV: %v", ErrCrypto, err)
	}
	mode := cipher.NewCBCDecrypter(c.block, iv)

	buf := make([]byte, bufferSize)
	var held []byte
	for {
		n, err := io.ReadFull(src, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		if n%aes.BlockSize != 0 {
			return fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrCrypto)
		}
		if n > 0 {
			mode.CryptBlocks(buf[:n], buf[:n])
			if _, werr := dst.Write(held); werr != nil {
				return werr
			}
			if _, werr := dst.Write(buf[:n-aes.BlockSize]); werr != nil {
				return werr
			}
			held = append(held[:0], buf[n-aes.BlockSize:n]...)
		}
		if err != nil {
			break
		}
	}

	if len(held) == 0 {
		return fmt.Errorf("%w: no ciphertext after IV", ErrCrypto)
	}
	last, err := unpad(held)
	if err != nil {
		return err
	}
	_, err = dst.Write(last)
	return err
}

// pad appends PKCS#7 padding to data, using scratch (which must share data's
// backing array and have room for one more block).
func pad(data, scratch []byte) []byte {
	p := aes.BlockSize - len(data)%aes.BlockSize
	out := scratch[:len(data)+p]
	for i := len(data); i < len(out); i++ {
		out[i] = byte(p)
	}
	return out
}

func unpad(block []byte) ([]byte, error) {
	p := int(block[len(block)-1])
	if p == 0 || p > aes.BlockSize {
		return nil, fmt.Errorf("%w: invalid padding (wrong password or corrupted file)", ErrCrypto)
	}
	if !bytes.Equal(block[len(block)-p:], bytes.Repeat([]byte{byte(p)}, p)) {
		return nil, fmt.Errorf("%w: invalid padding (wrong password or corrupted file)", ErrCrypto)
	}
	return block[:len(block)-p], nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
