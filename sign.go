// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"crypto/hmac"
	"crypto/sha256"
	"slices"
)

// SignatureSize is the length of the tag prepended by [*SignStage].
const SignatureSize = sha256.Size

// SignStage authenticates payloads with HMAC-SHA256.
//
// Protected format: tag(32) || payload.
type SignStage struct {
	key []byte
}

var _ Stage = &SignStage{}

// NewSignStage returns a [*SignStage] keyed with a copy of key.
//
// HMAC accepts keys of any length.
func NewSignStage(key []byte) *SignStage {
	return &SignStage{key: slices.Clone(key)}
}

// Protect implements [Stage].
func (s *SignStage) Protect(data []byte) ([]byte, error) {
	out := make([]byte, 0, SignatureSize+len(data))
	out = append(out, s.sum(data)...)
	return append(out, data...), nil
}

// Expose implements [Stage].
//
// Any failure yields [ErrBadSignature] without further detail.
func (s *SignStage) Expose(data []byte) ([]byte, error) {
	if len(data) < SignatureSize {
		return nil, NewError(KindGuard, "sign.expose", ErrBadSignature)
	}
	tag, content := data[:SignatureSize], data[SignatureSize:]
	if !hmac.Equal(tag, s.sum(content)) {
		return nil, NewError(KindGuard, "sign.expose", ErrBadSignature)
	}
	return slices.Clone(content), nil
}

// Overhead returns [SignatureSize].
func (s *SignStage) Overhead() int {
	return SignatureSize
}

func (s *SignStage) sum(data []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil)
}
