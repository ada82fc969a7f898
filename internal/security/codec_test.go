package security

import (
	"strings"
	"testing"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := testCodec(t)

	tests := []string{
		"hello",
		"",
		"multi word message with spaces",
		"unicode: héllo wörld",
		"emoji: 👍🔥💬",
		"日本語のメッセージ",
		strings.Repeat("long ", 500),
		"\x00\x01 control bytes",
	}

	for _, plaintext := range tests {
		got := codec.Decrypt(codec.Encrypt(plaintext))
		if got != plaintext {
			t.Errorf("round trip of %q = %q", plaintext, got)
		}
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	codec := testCodec(t)

	a := codec.Encrypt("same input")
	b := codec.Encrypt("same input")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestDecryptIsTotal(t *testing.T) {
	codec := testCodec(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"not base64", "not-base64!!!", DecryptFallback},
		{"too short", "YWJj", DecryptFallback},
		{"garbage blob", "YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXo=", DecryptFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codec.Decrypt(tt.input); got != tt.want {
				t.Errorf("Decrypt(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecryptTamperedBlob(t *testing.T) {
	codec := testCodec(t)

	blob := codec.Encrypt("original")
	tampered := "A" + blob[1:]
	if tampered == blob {
		tampered = "B" + blob[1:]
	}
	if got := codec.Decrypt(tampered); got == "original" {
		t.Error("tampered blob decrypted to the original plaintext")
	}
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	if _, err := NewCodec([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewCodecFromHex("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}
