package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	// argon2 parameters. Tuned for sub-second derivation on a typical
	// developer machine while remaining memory-hard: 64 MiB, one pass,
	// four lanes.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrBadPassphrase is returned by Decrypt when the passphrase fails to
// authenticate the ciphertext.
var ErrBadPassphrase = fmt.Errorf("payload: bad passphrase")

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}

// Encrypt seals plaintext under a key derived from passphrase and a fresh
// random salt, returning salt || nonce || ciphertext || tag, per spec.md
// §3's encrypted payload layout.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("payload: generating salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("payload: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens data (as produced by Encrypt) under a key derived from
// passphrase. Authentication failure (including a wrong passphrase) returns
// ErrBadPassphrase.
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, ErrBadPassphrase
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	sealed := data[saltSize+nonceSize:]

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("payload: building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("payload: building GCM mode: %w", err)
	}
	return gcm, nil
}
