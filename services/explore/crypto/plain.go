// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// PlainScheme is a Scheme without confidentiality for the mock node and
// tests. A ciphertext is the public key and the decimal value, base64
// encoded; decryption checks that it targets the key pair.
type PlainScheme struct{}

const plainKeyPrefix = "plain-"

// GenerateKeyPair implements Scheme. The public key is derived from the
// random private key.
func (PlainScheme) GenerateKeyPair() (string, []byte, error) {
	private := make([]byte, 16)
	if _, err := rand.Read(private); err != nil {
		return "", nil, err
	}
	return plainKeyPrefix + hex.EncodeToString(private), private, nil
}

// EncryptInt encodes v for publicKey.
func (PlainScheme) EncryptInt(publicKey string, v int64) string {
	return base64.StdEncoding.EncodeToString([]byte(publicKey + ":" + strconv.FormatInt(v, 10)))
}

// DecryptInt implements Scheme.
func (PlainScheme) DecryptInt(private []byte, ciphertext string) (int64, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return 0, fmt.Errorf("malformed ciphertext: %w", err)
	}
	key, value, ok := strings.Cut(string(raw), ":")
	if !ok {
		return 0, fmt.Errorf("malformed ciphertext")
	}
	if key != plainKeyPrefix+hex.EncodeToString(private) {
		return 0, fmt.Errorf("ciphertext targets another key")
	}
	return strconv.ParseInt(value, 10, 64)
}

var _ Scheme = PlainScheme{}
