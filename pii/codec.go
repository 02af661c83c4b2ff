package pii

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrCiphertextTooShort signals a stored blob smaller than nonce+tag.
	ErrCiphertextTooShort = errors.New("pii: ciphertext too short")
)

// Codec encrypts and decrypts identity fields at rest. Ciphertexts are
// nonce-prefixed XChaCha20-Poly1305; a fresh random nonce is drawn per field.
type Codec struct {
	key []byte
}

func NewCodec(key []byte) (*Codec, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("pii: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Codec{key: append([]byte(nil), key...)}, nil
}

func (c *Codec) Encrypt(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("pii: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("pii: draw nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (c *Codec) Decrypt(ciphertext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("pii: init cipher: %w", err)
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return "", ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("pii: open ciphertext: %w", err)
	}
	return string(plain), nil
}

// HashDigits strips everything but digits and returns the sha256 hex of the
// remainder. Document numbers are compared through this hash so formatting
// differences (dots, dashes) never matter.
func HashDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Digits returns only the digit runes of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskRecipient redacts an address or phone number for persistence. Only the
// first rune and, for emails, the domain survive.
func MaskRecipient(recipient string) string {
	if recipient == "" {
		return ""
	}
	if at := strings.LastIndex(recipient, "@"); at > 0 {
		return recipient[:1] + "***@" + recipient[at+1:]
	}
	if len(recipient) <= 4 {
		return "****"
	}
	return recipient[:1] + "***" + recipient[len(recipient)-4:]
}

// HashRecipient is the lookup hash stored next to the masked form.
func HashRecipient(recipient string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(recipient))))
	return hex.EncodeToString(sum[:])
}
