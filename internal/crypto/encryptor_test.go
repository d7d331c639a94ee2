package crypto

import (
	"encoding/base64"
	"errors"
	"testing"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func TestNewEncryptor_BadKeys(t *testing.T) {
	if _, err := NewEncryptor("not-valid-base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("tooshort"))
	if _, err := NewEncryptor(short); err == nil {
		t.Fatal("expected error for wrong key length")
	}
}

func TestSealOpen(t *testing.T) {
	enc := newTestEncryptor(t)

	sealed, err := enc.Seal("482913", "session-1")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "482913" {
		t.Fatal("sealed value should differ from plaintext")
	}

	got, err := enc.Open(sealed, "session-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got != "482913" {
		t.Fatalf("expected 482913, got %q", got)
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	enc := newTestEncryptor(t)
	a, _ := enc.Seal("same", "s")
	b, _ := enc.Seal("same", "s")
	if a == b {
		t.Fatal("two seals of the same value should differ")
	}
}

func TestOpen_WrongAssociatedData(t *testing.T) {
	enc := newTestEncryptor(t)
	sealed, err := enc.Seal("482913", "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Open(sealed, "session-2"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, err := newTestEncryptor(t).Seal("482913", "s")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestEncryptor(t).Open(sealed, "s"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestOpen_Malformed(t *testing.T) {
	enc := newTestEncryptor(t)
	for _, in := range []string{"", "!!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := enc.Open(in, "s"); !errors.Is(err, ErrOpen) {
			t.Errorf("Open(%q): expected ErrOpen, got %v", in, err)
		}
	}
}
