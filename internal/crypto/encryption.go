package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/vdavid/webmail/internal/models"
)

// KeySize is the AES-256 key length the encryptor requires.
const KeySize = 32

// ErrCiphertextTooShort means the stored value cannot even hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encryptor seals the stored IMAP and SMTP passwords with AES-GCM.
// Sealed values are laid out as nonce || ciphertext || tag.
// It is safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a base64-encoded 256-bit key.
func NewEncryptor(base64Key string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d bytes", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *Encryptor) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a value produced by Encrypt. A wrong key or any tampering
// fails authentication.
func (e *Encryptor) Decrypt(sealed []byte) (string, error) {
	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptMailPasswords seals both mail passwords. An empty SMTP password
// stays unset so it keeps following the IMAP one.
func (e *Encryptor) EncryptMailPasswords(imapPassword, smtpPassword string) (imapSealed, smtpSealed []byte, err error) {
	imapSealed, err = e.Encrypt(imapPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt IMAP password: %w", err)
	}
	if smtpPassword == "" {
		return imapSealed, nil, nil
	}
	smtpSealed, err = e.Encrypt(smtpPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt SMTP password: %w", err)
	}
	return imapSealed, smtpSealed, nil
}

// DecryptMailPasswords returns the plaintext IMAP and SMTP passwords of settings.
// An unset SMTP password decrypts to the IMAP one, since most providers share them.
func (e *Encryptor) DecryptMailPasswords(settings *models.UserSettings) (imapPassword, smtpPassword string, err error) {
	imapPassword, err = e.Decrypt(settings.EncryptedIMAPPassword)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	if len(settings.EncryptedSMTPPassword) == 0 {
		return imapPassword, imapPassword, nil
	}
	smtpPassword, err = e.Decrypt(settings.EncryptedSMTPPassword)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}
	return imapPassword, smtpPassword, nil
}
