package encryption

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

const testIterations = 100_000

func newTestCipher(t *testing.T, passphrase string) *TemplateCipher {
	t.Helper()
	c, err := NewTemplateCipher(passphrase, testIterations)
	if err != nil {
		t.Fatalf("NewTemplateCipher() error = %v", err)
	}
	return c
}

func TestNewTemplateCipher_Validation(t *testing.T) {
	if _, err := NewTemplateCipher("", testIterations); err == nil {
		t.Error("empty passphrase should be rejected")
	}
	if _, err := NewTemplateCipher("secret", 50_000); err == nil {
		t.Error("iteration count below 100000 should be rejected")
	}
}

func TestTemplateCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t, "exam-platform-secret")

	payloads := [][]byte{
		[]byte("short"),
		[]byte(""),
		bytes.Repeat([]byte{0x00, 0xFF, 0x7A}, 512),
	}

	for _, plain := range payloads {
		sealed, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		opened, err := c.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(opened, plain) {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(opened), len(plain))
		}
	}
}

func TestTemplateCipher_NonceUnique(t *testing.T) {
	c := newTestCipher(t, "exam-platform-secret")

	a, _ := c.Encrypt([]byte("same input"))
	b, _ := c.Encrypt([]byte("same input"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext must differ")
	}
}

func TestTemplateCipher_TamperDetection(t *testing.T) {
	c := newTestCipher(t, "exam-platform-secret")

	sealed, err := c.Encrypt([]byte("face template bytes"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flip one byte anywhere in the envelope
	for _, idx := range []int{0, len(sealed) / 2, len(sealed) - 1} {
		tampered := make([]byte, len(sealed))
		copy(tampered, sealed)
		tampered[idx] ^= 0x01

		if _, err := c.Decrypt(tampered); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Decrypt(tampered@%d) error = %v, want ErrDecryptionFailed", idx, err)
		}
	}
}

func TestTemplateCipher_WrongPassphrase(t *testing.T) {
	enrolled := newTestCipher(t, "original-passphrase")
	other := newTestCipher(t, "rotated-passphrase")

	sealed, err := enrolled.Encrypt([]byte("voice template"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := other.Decrypt(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with wrong passphrase error = %v, want ErrDecryptionFailed", err)
	}
}

func TestTemplateCipher_TruncatedCiphertext(t *testing.T) {
	c := newTestCipher(t, "exam-platform-secret")

	if _, err := c.Decrypt([]byte{0x01, 0x02}); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt(short) error = %v, want ErrDecryptionFailed", err)
	}
}

func TestTemplateCipher_VectorRoundTrip(t *testing.T) {
	c := newTestCipher(t, "exam-platform-secret")

	vector := []float64{0.125, -3.5, 0, 1e-8, 42.42}
	sealed, err := c.EncryptVector(vector)
	if err != nil {
		t.Fatalf("EncryptVector() error = %v", err)
	}

	got, err := c.DecryptVector(sealed)
	if err != nil {
		t.Fatalf("DecryptVector() error = %v", err)
	}
	if len(got) != len(vector) {
		t.Fatalf("DecryptVector() length = %d, want %d", len(got), len(vector))
	}
	for i := range vector {
		if math.Abs(got[i]-vector[i]) > 1e-12 {
			t.Errorf("DecryptVector()[%d] = %v, want %v", i, got[i], vector[i])
		}
	}
}

func TestTemplateCipher_SamePassphraseInteroperates(t *testing.T) {
	// Key derivation is a pure function of the passphrase, so independently
	// constructed ciphers must read each other's output (restart safety).
	first := newTestCipher(t, "shared-passphrase")
	second := newTestCipher(t, "shared-passphrase")

	sealed, err := first.Encrypt([]byte("enrolled before restart"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	opened, err := second.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(opened) != "enrolled before restart" {
		t.Errorf("Decrypt() = %q", opened)
	}
}
