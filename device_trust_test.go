package authcore

import (
	"encoding/json"
	"testing"
)

func TestTrustedDeviceSetMembership(t *testing.T) {
	var zero TrustedDeviceSet
	if zero.Has("fp-1") {
		t.Fatal("zero set should contain nothing")
	}
	if zero.Len() != 0 {
		t.Fatalf("zero set len = %d", zero.Len())
	}

	s := NewTrustedDeviceSet("fp-1", "fp-2", "", "fp-1")
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	if !s.Has("fp-1") || !s.Has("fp-2") {
		t.Fatal("expected both fingerprints present")
	}
	if s.Has("") {
		t.Fatal("empty fingerprint must never be trusted")
	}
}

func TestTrustedDeviceSetWithIsIdempotent(t *testing.T) {
	s := NewTrustedDeviceSet("fp-1")

	s2 := s.With("fp-1")
	if s2.Len() != 1 {
		t.Fatalf("re-adding changed size: %d", s2.Len())
	}

	s3 := s.With("fp-2")
	if s3.Len() != 2 || !s3.Has("fp-2") {
		t.Fatal("add failed")
	}
	if s.Has("fp-2") {
		t.Fatal("With mutated its receiver")
	}

	if s.With("").Len() != 1 {
		t.Fatal("adding empty fingerprint changed the set")
	}
}

func TestTrustedDeviceSetWithout(t *testing.T) {
	s := NewTrustedDeviceSet("fp-1", "fp-2")

	s2 := s.Without("fp-1")
	if s2.Has("fp-1") || !s2.Has("fp-2") {
		t.Fatal("Without removed the wrong entry")
	}
	if !s.Has("fp-1") {
		t.Fatal("Without mutated its receiver")
	}

	if s.Without("absent").Len() != 2 {
		t.Fatal("removing an absent fingerprint changed the set")
	}
}

func TestTrustedDeviceSetJSON(t *testing.T) {
	s := NewTrustedDeviceSet("zeta", "alpha", "mid")

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["alpha","mid","zeta"]` {
		t.Fatalf("expected sorted array, got %s", data)
	}

	var back TrustedDeviceSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Len() != 3 || !back.Has("mid") {
		t.Fatalf("round trip mismatch: %v", back.List())
	}

	var empty TrustedDeviceSet
	data, err = json.Marshal(empty)
	if err != nil {
		t.Fatalf("marshal zero set: %v", err)
	}
	if string(data) != `[]` {
		t.Fatalf("zero set should marshal as [], got %s", data)
	}
}
