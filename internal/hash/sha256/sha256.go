// Package sha256 fingerprints normalized URLs for seen records.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sync"
)

// Hasher implements crawler.Hasher. Digests are pooled because the
// frontier hashes every discovered link.
type Hasher struct {
	pool sync.Pool
}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{pool: sync.Pool{New: func() any { return sha256.New() }}}
}

// Hash returns the lowercase hex SHA-256 of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	d, _ := h.pool.Get().(hash.Hash)
	defer h.pool.Put(d)
	d.Reset()
	if _, err := d.Write(data); err != nil {
		return "", err
	}
	var sum [sha256.Size]byte
	return hex.EncodeToString(d.Sum(sum[:0])), nil
}
