package store

import "testing"

func TestHashString(t *testing.T) {
	// Known SHA256 hash of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	result := HashString("hello")

	if result != expected {
		t.Errorf("HashString(\"hello\") = %q, want %q", result, expected)
	}
}

func TestHashContent(t *testing.T) {
	content := []byte("board payload")
	hash1 := HashContent(content)
	hash2 := HashContent(content)

	if hash1 != hash2 {
		t.Errorf("same content produced different hashes: %q != %q", hash1, hash2)
	}

	different := HashContent([]byte("other payload"))
	if hash1 == different {
		t.Error("different content should produce different hash")
	}

	if len(hash1) != 64 {
		t.Errorf("hash length should be 64, got %d", len(hash1))
	}
}
