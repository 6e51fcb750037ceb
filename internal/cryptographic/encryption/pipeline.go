package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"rtchat/internal/cryptographic/kdf"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 16 // 128-bit IV
	saltSize  = 16
)

var (
	// ErrIntegrity means the envelope's keyed digest did not match. The
	// envelope is treated as tampered and no cipher work is attempted.
	ErrIntegrity = errors.New("encryption: integrity digest mismatch")

	// ErrCipher means the digest matched but GCM authentication failed.
	ErrCipher = errors.New("encryption: cipher authentication failed")
)

type (
	// Envelope is one encrypted message body as it travels and persists.
	// All fields are hex-encoded.
	Envelope struct {
		IV      string `bson:"iv" json:"iv"`
		Content string `bson:"content" json:"content"`
		AuthTag string `bson:"auth_tag" json:"authTag"`
		HMAC    string `bson:"hmac" json:"hmac"`
		Salt    string `bson:"salt" json:"salt"`
	}

	// Pipeline is a pure encrypt/decrypt transform. The encryption key and
	// the digest key are derived independently from one master secret, so a
	// forged digest says nothing about the cipher key and vice versa.
	Pipeline struct {
		aead      cipher.AEAD
		digestKey []byte
	}
)

func NewPipeline(masterKey []byte) (*Pipeline, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(masterKey))
	}

	encKey := make([]byte, keySize)
	if _, err := kdf.HKDF(masterKey, nil, []byte("rtchat/message-encryption"), encKey); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	digestKey := make([]byte, keySize)
	if _, err := kdf.HKDF(masterKey, nil, []byte("rtchat/message-digest"), digestKey); err != nil {
		return nil, fmt.Errorf("derive digest key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	return &Pipeline{aead: aead, digestKey: digestKey}, nil
}

// Encrypt seals plaintext into an envelope with a fresh random IV and salt.
func (p *Pipeline) Encrypt(plaintext []byte) (*Envelope, error) {
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("rand.Read iv: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("rand.Read salt: %w", err)
	}

	sealed := p.aead.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-p.aead.Overhead()]
	tag := sealed[len(sealed)-p.aead.Overhead():]

	return &Envelope{
		IV:      hex.EncodeToString(iv),
		Content: hex.EncodeToString(ct),
		AuthTag: hex.EncodeToString(tag),
		HMAC:    hex.EncodeToString(p.digest(salt, iv, ct)),
		Salt:    hex.EncodeToString(salt),
	}, nil
}

// Decrypt verifies the keyed digest in constant time before touching the
// cipher; a digest mismatch returns ErrIntegrity without attempting
// decryption. A GCM failure after a good digest returns ErrCipher.
func (p *Pipeline) Decrypt(env *Envelope) ([]byte, error) {
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != nonceSize {
		return nil, ErrIntegrity
	}
	ct, err := hex.DecodeString(env.Content)
	if err != nil {
		return nil, ErrIntegrity
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil || len(tag) != p.aead.Overhead() {
		return nil, ErrIntegrity
	}
	digest, err := hex.DecodeString(env.HMAC)
	if err != nil {
		return nil, ErrIntegrity
	}
	salt, err := hex.DecodeString(env.Salt)
	if err != nil {
		return nil, ErrIntegrity
	}

	if !hmac.Equal(digest, p.digest(salt, iv, ct)) {
		return nil, ErrIntegrity
	}

	plaintext, err := p.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrCipher
	}
	return plaintext, nil
}

func (p *Pipeline) digest(salt, iv, ct []byte) []byte {
	mac := hmac.New(sha256.New, p.digestKey)
	mac.Write(salt)
	mac.Write(iv)
	mac.Write(ct)
	return mac.Sum(nil)
}
