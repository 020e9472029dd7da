package testutil

import (
	"testing"

	"github.com/vdavid/webmail/internal/crypto"
)

// TestEncryptionKeyBase64 is a fixed 32-byte AES key ("test-key-" padded with
// digits) for tests and the E2E server. Never use it for real data.
const TestEncryptionKeyBase64 = "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM="

// GetTestEncryptor returns an encryptor keyed with TestEncryptionKeyBase64.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKeyBase64)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
