package warc

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// DigestAlgorithm selects the hash and text encoding of a digest field.
type DigestAlgorithm int

const (
	// SHA1 is written as "sha1:<hex>" and is the default for new records.
	SHA1 DigestAlgorithm = iota
	SHA1Base32
	SHA256Base16
	SHA256Base32
	BLAKE3
)

var ErrUnknownDigestAlgorithm = errors.New("unknown digest algorithm")

func (a DigestAlgorithm) prefix() string {
	switch a {
	case SHA1, SHA1Base32:
		return "sha1"
	case SHA256Base16, SHA256Base32:
		return "sha256"
	case BLAKE3:
		return "blake3"
	}
	return ""
}

func (a DigestAlgorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA1, SHA1Base32:
		return sha1.New(), nil
	case SHA256Base16, SHA256Base32:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	}
	return nil, ErrUnknownDigestAlgorithm
}

func (a DigestAlgorithm) encode(sum []byte) string {
	switch a {
	case SHA1Base32, SHA256Base32:
		return base32.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// Digester computes a digest incrementally; write the data to it, then call
// Sum.
type Digester struct {
	hash.Hash
	alg DigestAlgorithm
}

func NewDigester(alg DigestAlgorithm) (*Digester, error) {
	h, err := alg.newHash()
	if err != nil {
		return nil, err
	}
	return &Digester{Hash: h, alg: alg}, nil
}

// Algorithm returns the algorithm the Digester was created with.
func (d *Digester) Algorithm() DigestAlgorithm { return d.alg }

// Sum returns the digest in "<algorithm>:<encoded>" form.
func (d *Digester) Sum() string {
	return d.alg.prefix() + ":" + d.alg.encode(d.Hash.Sum(nil))
}

// GetDigest reads r to the end and returns its digest.
func GetDigest(r io.Reader, alg DigestAlgorithm) (string, error) {
	d, err := NewDigester(alg)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(d, r); err != nil {
		return "", err
	}
	return d.Sum(), nil
}

// DigestAlgorithmOf works out the algorithm a digest field value was written
// with from its prefix and the length of its encoded part.
func DigestAlgorithmOf(digest string) (DigestAlgorithm, error) {
	prefix, value, ok := strings.Cut(digest, ":")
	if !ok {
		return 0, ErrUnknownDigestAlgorithm
	}
	switch strings.ToLower(prefix) {
	case "sha1":
		if len(value) == hex.EncodedLen(sha1.Size) {
			return SHA1, nil
		}
		return SHA1Base32, nil
	case "sha256":
		if len(value) == hex.EncodedLen(sha256.Size) {
			return SHA256Base16, nil
		}
		return SHA256Base32, nil
	case "blake3":
		return BLAKE3, nil
	}
	return 0, ErrUnknownDigestAlgorithm
}

// IsDigestSupported reports whether a digest value can be verified.
func IsDigestSupported(digest string) bool {
	_, err := DigestAlgorithmOf(digest)
	return err == nil
}

// CheckDigest hashes r with the algorithm expected was written with and
// compares the two. It returns the computed digest as well.
func CheckDigest(expected string, r io.Reader) (bool, string, error) {
	alg, err := DigestAlgorithmOf(expected)
	if err != nil {
		return false, "", err
	}
	got, err := GetDigest(r, alg)
	if err != nil {
		return false, "", err
	}
	return strings.EqualFold(got, expected), got, nil
}
