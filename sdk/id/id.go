// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package id generates random identifiers and secrets from a
// cryptographically secure source.
package id

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hashicorp/go-uuid"
)

// DefaultLength is the length of an id generated by New without a prefix.
const DefaultLength = 10

// DefaultSecretBytes is the number of random bytes used by Secret. Its
// base64url encoding is 43 characters long.
const DefaultSecretBytes = 32

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New generates a base62 id of DefaultLength with an optional prefix. The
// prefix is separated from the random part with an "_".
func New(optionalPrefix string) (string, error) {
	const op = "id.New"
	id, err := base62(DefaultLength)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}

// Secret returns n random bytes encoded as unpadded base64url. It's suitable
// for unguessable correlation tokens. If n <= 0, DefaultSecretBytes is used.
func Secret(n int) (string, error) {
	const op = "id.Secret"
	if n <= 0 {
		n = DefaultSecretBytes
	}
	b, err := uuid.GenerateRandomBytes(n)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read random bytes: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// base62 returns a random string of length chars using rejection sampling so
// every character of the alphabet is equally likely.
func base62(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	for sb.Len() < length {
		buf, err := uuid.GenerateRandomBytes(length * 2)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			// 248 is the largest multiple of 62 that fits in a byte
			if b >= 248 {
				continue
			}
			sb.WriteByte(base62Alphabet[int(b)%len(base62Alphabet)])
			if sb.Len() == length {
				break
			}
		}
	}
	return sb.String(), nil
}
