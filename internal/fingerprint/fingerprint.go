// Package fingerprint turns untrusted, client-supplied device fingerprints
// into fixed-length store keys.
//
// Raw fingerprints are never written to the store. They are hashed with a
// keyed BLAKE2b-256 so that a store dump cannot be joined against client
// telemetry without the server-side key.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// MaxLen is the longest fingerprint the public API accepts, in bytes.
const MaxLen = 512

// Hasher derives store keys from fingerprints.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed with secret. BLAKE2b accepts keys of up to
// 64 bytes; an empty secret yields an unkeyed hash, suitable for tests only.
func NewHasher(secret string) (*Hasher, error) {
	if len(secret) > blake2b.Size {
		return nil, fmt.Errorf("fingerprint key too long: %d bytes (max %d)", len(secret), blake2b.Size)
	}
	return &Hasher{key: []byte(secret)}, nil
}

// Hash returns the hex-encoded keyed hash of fp. Surrounding whitespace is
// ignored; every other byte contributes to the hash.
func (h *Hasher) Hash(fp string) string {
	fp = strings.TrimSpace(fp)
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Key length is validated in NewHasher.
		panic(err)
	}
	mac.Write([]byte(fp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Derive builds a stand-in fingerprint for clients that did not send one,
// so anonymous submitters still accrue reputation per network + browser.
func Derive(ip, userAgent string) string {
	return "derived:" + ip + "|" + userAgent
}

// Resolve returns fp when present, otherwise the derived fingerprint.
func Resolve(fp, ip, userAgent string) string {
	if strings.TrimSpace(fp) == "" {
		return Derive(ip, userAgent)
	}
	return fp
}
