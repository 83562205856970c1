package pomelo

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM.
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation.
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size.
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures the encrypted persistence adapter.
type EncryptionConfig struct {
	// Enabled turns on encryption for the database blob.
	Enabled bool `yaml:"enabled"`
	// Key is the encryption key (must be 32 bytes for AES-256).
	// If empty, Password is used to derive a key.
	Key []byte `yaml:"-"`
	// Password is used to derive the encryption key via PBKDF2.
	Password string `yaml:"password"`
}

// Encryptor provides encryption/decryption for the database blob.
type Encryptor struct {
	gcm  cipher.AEAD
	salt []byte
}

// NewEncryptor creates an encryptor from a key or password, generating a
// fresh salt for password-derived keys.
func NewEncryptor(cfg *EncryptionConfig) (*Encryptor, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return NewEncryptorWithSalt(cfg, salt)
}

// NewEncryptorWithSalt creates an encryptor using an existing salt, as read
// back from an encrypted blob header.
func NewEncryptorWithSalt(cfg *EncryptionConfig, salt []byte) (*Encryptor, error) {
	if len(salt) != EncryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}

	var key []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
	case cfg.Password != "":
		key = pbkdf2.Key([]byte(cfg.Password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt}, nil
}

// Salt returns the salt used for key derivation.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Encrypt encrypts plaintext and returns ciphertext with prepended nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (with prepended nonce) and returns plaintext.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionNonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:EncryptionNonceSize]
	return e.gcm.Open(nil, nonce, ciphertext[EncryptionNonceSize:], nil)
}

// magicEncrypted is the magic prefix of encrypted database blobs.
var magicEncrypted = [4]byte{'P', 'E', 'N', 'C'}

// encryptedHeaderSize is magic + version byte + salt.
const encryptedHeaderSize = 4 + 1 + EncryptionSaltSize

// encryptBlob seals the blob and prefixes the salted header so the key can
// be re-derived on read.
func encryptBlob(data []byte, cfg *EncryptionConfig) ([]byte, error) {
	enc, err := NewEncryptor(cfg)
	if err != nil {
		return nil, err
	}
	sealed, err := enc.Encrypt(data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, encryptedHeaderSize+len(sealed))
	copy(out[0:4], magicEncrypted[:])
	out[4] = 1
	copy(out[5:encryptedHeaderSize], enc.Salt())
	copy(out[encryptedHeaderSize:], sealed)
	return out, nil
}

// decryptBlob validates the header, re-derives the key from the stored salt
// and opens the blob.
func decryptBlob(data []byte, cfg *EncryptionConfig) ([]byte, error) {
	if len(data) < encryptedHeaderSize {
		return nil, errors.New("encrypted blob too short")
	}
	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != magicEncrypted {
		return nil, errors.New("invalid encrypted blob magic")
	}
	salt := data[5:encryptedHeaderSize]

	enc, err := NewEncryptorWithSalt(cfg, salt)
	if err != nil {
		return nil, err
	}
	return enc.Decrypt(data[encryptedHeaderSize:])
}
