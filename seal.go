// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"crypto/cipher"
	"crypto/rand"

	"github.com/bassosimone/runtimex"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sizes used by [*SealStage].
const (
	SealKeySize   = chacha20poly1305.KeySize
	SealNonceSize = chacha20poly1305.NonceSize
	SealTagSize   = chacha20poly1305.Overhead
)

// SealStage encrypts payloads with ChaCha20-Poly1305.
//
// Protected format: nonce(12) || ciphertext || tag(16). Each call to
// [*SealStage.Protect] draws a fresh random nonce.
type SealStage struct {
	aead cipher.AEAD

	// Rand is the nonce source.
	//
	// Set by [NewSealStage] to [rand.Reader].
	Rand interface{ Read([]byte) (int, error) }
}

var _ Stage = &SealStage{}

// NewSealStage returns a [*SealStage] keyed from key.
//
// The key is truncated or zero-padded to [SealKeySize] bytes.
func NewSealStage(key []byte) *SealStage {
	fixed := make([]byte, SealKeySize)
	copy(fixed, key)
	aead := runtimex.PanicOnError1(chacha20poly1305.New(fixed))
	return &SealStage{aead: aead, Rand: rand.Reader}
}

// Protect implements [Stage].
func (s *SealStage) Protect(data []byte) ([]byte, error) {
	out := make([]byte, SealNonceSize, SealNonceSize+len(data)+SealTagSize)
	if _, err := s.Rand.Read(out); err != nil {
		return nil, NewError(KindGuard, "seal.protect", err)
	}
	return s.aead.Seal(out, out[:SealNonceSize], data, nil), nil
}

// Expose implements [Stage].
//
// Truncated input, tampering and wrong keys all yield [ErrBadCiphertext].
func (s *SealStage) Expose(data []byte) ([]byte, error) {
	if len(data) < SealNonceSize {
		return nil, NewError(KindGuard, "seal.expose", ErrBadCiphertext)
	}
	nonce, ciphertext := data[:SealNonceSize], data[SealNonceSize:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewError(KindGuard, "seal.expose", ErrBadCiphertext)
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

// Overhead returns the nonce plus tag size.
func (s *SealStage) Overhead() int {
	return SealNonceSize + SealTagSize
}
