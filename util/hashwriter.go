// Package util holds small helpers shared by the bag packages: a
// multi-algorithm hash writer and a goroutine gate.
package util

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"io/ioutil"
	"strings"
)

// A HashWriter computes any number of named checksums over the bytes
// written to it. Algorithm names follow the BagIt manifest convention
// (md5, sha1, sha256, sha512); unrecognized names are ignored.
type HashWriter struct {
	io.Writer
	hashes map[string]hash.Hash
}

// NewHashWriter returns a HashWriter computing the named checksums.
func NewHashWriter(algorithms ...string) *HashWriter {
	hw := &HashWriter{hashes: make(map[string]hash.Hash)}
	var ws []io.Writer
	for _, alg := range algorithms {
		h := newHash(alg)
		if h == nil {
			continue
		}
		hw.hashes[strings.ToLower(alg)] = h
		ws = append(ws, h)
	}
	if len(ws) == 0 {
		hw.Writer = ioutil.Discard
	} else {
		hw.Writer = io.MultiWriter(ws...)
	}
	return hw
}

func newHash(alg string) hash.Hash {
	switch strings.ToLower(alg) {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	case "sha512":
		return sha512.New()
	}
	return nil
}

// Supported reports whether the named algorithm is one this writer type
// can compute.
func Supported(alg string) bool {
	return newHash(alg) != nil
}

// SumHex returns the hex-encoded checksum for the named algorithm, or ""
// if the algorithm was not requested.
func (hw *HashWriter) SumHex(alg string) string {
	h, ok := hw.hashes[strings.ToLower(alg)]
	if !ok {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SumsHex returns every computed checksum, hex encoded and keyed by
// algorithm name.
func (hw *HashWriter) SumsHex() map[string]string {
	out := make(map[string]string, len(hw.hashes))
	for alg, h := range hw.hashes {
		out[alg] = hex.EncodeToString(h.Sum(nil))
	}
	return out
}
