package hashid

import "testing"

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("hello world"))
	b := Hash([]byte("hello world"))
	if a != b {
		t.Fatalf("hash not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(a))
	}
}

func TestHashDiffers(t *testing.T) {
	if Hash([]byte("a")) == Hash([]byte("b")) {
		t.Fatal("distinct inputs hashed to the same digest")
	}
}

func TestIdempotencyKeyUniquePerBookAndHash(t *testing.T) {
	k1 := IdempotencyKey(42, "abc")
	k2 := IdempotencyKey(42, "def")
	k3 := IdempotencyKey(43, "abc")
	if k1 == k2 || k1 == k3 || k2 == k3 {
		t.Fatalf("idempotency keys collided: %s %s %s", k1, k2, k3)
	}
	if k1 != "42:abc" {
		t.Fatalf("unexpected key format: %s", k1)
	}
}
