// SPDX-License-Identifier: MIT

package algorithms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// DefaultSuite is the out-of-the-box AlgorithmSuite: X25519 for the
// ephemeral ECDH, Ed25519 for identity signatures, SHA-256 or BLAKE2b for
// hashing, and either AES-256-GCM or ChaCha20-Poly1305 for the AEAD, per
// the negotiated Quintuple. It is grounded on wgcfg/key.go's curve25519
// key handling and device/noise-types.go's AEAD key sizing.
type DefaultSuite struct {
	quintuple Quintuple
}

func NewDefaultSuite(q Quintuple) *DefaultSuite {
	return &DefaultSuite{quintuple: q}
}

func (s *DefaultSuite) Hash() Hash { return s.quintuple.Hash }

func (s *DefaultSuite) KeyExchange() KeyExchanger { return x25519Exchanger{} }

func (s *DefaultSuite) KEM() KEM {
	if s.quintuple.Secondary == SecondaryNone {
		return nil
	}
	return nopKEM{}
}

func (s *DefaultSuite) AEAD(key SymmetricKey) AEAD {
	switch s.quintuple.Symmetric {
	case SymmetricAES256GCM:
		a, err := newAESGCM(key)
		if err == nil {
			return a
		}
		fallthrough
	default:
		aead, _ := chacha20poly1305.New(key[:])
		return aead
	}
}

func (s *DefaultSuite) Signer() Signer { return ed25519Signer{} }

func (s *DefaultSuite) KDF() KDF {
	if s.quintuple.Hash == HashBLAKE2b {
		return blake2bKDF{}
	}
	return sha256KDF{}
}

// PreferredSymmetricOrder returns the cipher preference order for this
// process: AES-256-GCM first when the CPU advertises AES-NI (so the AEAD
// runs in hardware), otherwise ChaCha20-Poly1305 first. Used to fill a
// Hello's SupportedSets.Symmetric with both ciphers. The order does not
// influence Negotiate, which always picks the lowest common enum value
// (ChaCha20-Poly1305 whenever both sides offer it).
func PreferredSymmetricOrder() []Symmetric {
	if cpuid.CPU.Supports(cpuid.AESNI) {
		return []Symmetric{SymmetricAES256GCM, SymmetricChaCha20Poly1305}
	}
	return []Symmetric{SymmetricChaCha20Poly1305, SymmetricAES256GCM}
}

// --- X25519 ---

type x25519Exchanger struct{}

func (x25519Exchanger) PublicKeySize() int { return 32 }

func (x25519Exchanger) GenerateEphemeral() (public, private []byte, err error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err = cryptorand.Read(priv); err != nil {
		return nil, nil, err
	}
	priv[0] &= 248
	priv[31] = (priv[31] & 127) | 64
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (x25519Exchanger) SharedSecret(localPrivate, remotePublic []byte) ([]byte, error) {
	return curve25519.X25519(localPrivate, remotePublic)
}

// --- KEM (no-op placeholder; see Suite.KEM doc) ---

type nopKEM struct{}

func (nopKEM) GenerateKeyPair() (public, private []byte, err error) {
	return nil, nil, errors.New("algorithms: no post-quantum KEM configured")
}

func (nopKEM) Encapsulate(peerPublic []byte) (ciphertext, sharedSecret []byte, err error) {
	return nil, nil, errors.New("algorithms: no post-quantum KEM configured")
}

func (nopKEM) Decapsulate(ciphertext, localPrivate []byte) (sharedSecret []byte, err error) {
	return nil, errors.New("algorithms: no post-quantum KEM configured")
}

// --- AES-256-GCM ---

func newAESGCM(key SymmetricKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// --- Ed25519 signer ---

type ed25519Signer struct{}

func (ed25519Signer) PublicKeySize() int { return ed25519.PublicKeySize }

func (ed25519Signer) GenerateKeyPair() (public, private []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	return []byte(pub), []byte(priv), err
}

func (ed25519Signer) Sign(private, message []byte) ([]byte, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, errors.New("algorithms: bad ed25519 private key size")
	}
	return ed25519.Sign(ed25519.PrivateKey(private), message), nil
}

func (ed25519Signer) Verify(public, message, signature []byte) bool {
	if len(public) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), message, signature)
}

// --- KDFs ---

type sha256KDF struct{}

func (sha256KDF) HashSize() int { return sha256.Size }

func (sha256KDF) Hash(data ...[]byte) []byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func (s sha256KDF) DeriveKey(secret []byte, info string) SymmetricKey {
	return hkdfLikeExpand(s.Hash, sha256.Size, secret, info)
}

type blake2bKDF struct{}

func (blake2bKDF) HashSize() int { return blake2b.Size256 }

func (blake2bKDF) Hash(data ...[]byte) []byte {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func (b blake2bKDF) DeriveKey(secret []byte, info string) SymmetricKey {
	return hkdfLikeExpand(b.Hash, blake2b.Size256, secret, info)
}

// hkdfLikeExpand implements a single-step "extract-then-expand" derivation:
// out = Hash(secret || info). This mirrors the transcript-hash-driven key
// schedule WireGuard's Noise handshake uses (successive Hash(ck || input)
// steps) rather than pulling in a generic HKDF dependency the rest of
// the stack doesn't already carry.
func hkdfLikeExpand(hash func(...[]byte) []byte, size int, secret []byte, info string) SymmetricKey {
	var key SymmetricKey
	digest := hash(secret, []byte(info))
	copy(key[:], digest[:min(size, SymmetricKeySize)])
	return key
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
