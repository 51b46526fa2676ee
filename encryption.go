package healthsync

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// encryptionNonceSize is the nonce size for AES-GCM
	encryptionNonceSize = 12
	// encryptionSaltSize is the salt size for key derivation
	encryptionSaltSize = 32
	// encryptionKeySize is the AES-256 key size
	encryptionKeySize = 32
	// pbkdf2Iterations is the number of iterations for key derivation
	pbkdf2Iterations = 100000
)

// encryptor seals journal entries at rest. Raw payloads are health data;
// when a passphrase is configured every entry is AES-256-GCM encrypted with
// a key derived from it.
type encryptor struct {
	gcm cipher.AEAD
}

// newEncryptor derives an AES-256 key from the passphrase and salt via
// PBKDF2 and returns a ready AEAD wrapper.
func newEncryptor(passphrase string, salt []byte) (*encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) != encryptionSaltSize {
		return nil, fmt.Errorf("salt must be %d bytes", encryptionSaltSize)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &encryptor{gcm: gcm}, nil
}

// seal encrypts plain, prepending the random nonce to the ciphertext.
func (e *encryptor) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, encryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plain, nil), nil
}

// open decrypts a sealed entry produced by seal.
func (e *encryptor) open(sealed []byte) ([]byte, error) {
	if len(sealed) < encryptionNonceSize {
		return nil, errors.New("sealed data too short")
	}
	nonce, ciphertext := sealed[:encryptionNonceSize], sealed[encryptionNonceSize:]
	return e.gcm.Open(nil, nonce, ciphertext, nil)
}

// loadOrCreateSalt reads the key-derivation salt from path, generating and
// persisting a fresh one on first use.
func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != encryptionSaltSize {
			return nil, fmt.Errorf("corrupt salt file %s: %d bytes", path, len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	salt = make([]byte, encryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, err
	}
	return salt, nil
}
