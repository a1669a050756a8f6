package authcore

import (
	"encoding/json"
	"sort"
)

// TrustedDeviceSet is the set of device fingerprints an account has
// completed two-factor verification from. Fingerprints are opaque
// strings; the set never inspects their structure.
//
// The zero value is an empty set. All operations return a new set and
// never mutate the receiver, so sets can be shared across goroutines
// once constructed.
type TrustedDeviceSet struct {
	fingerprints map[string]struct{}
}

// NewTrustedDeviceSet builds a set from the given fingerprints. Empty
// strings and duplicates are dropped.
func NewTrustedDeviceSet(fingerprints ...string) TrustedDeviceSet {
	s := TrustedDeviceSet{fingerprints: make(map[string]struct{}, len(fingerprints))}
	for _, fp := range fingerprints {
		if fp == "" {
			continue
		}
		s.fingerprints[fp] = struct{}{}
	}
	return s
}

// Has reports whether fp is in the set.
func (s TrustedDeviceSet) Has(fp string) bool {
	if fp == "" || s.fingerprints == nil {
		return false
	}
	_, ok := s.fingerprints[fp]
	return ok
}

// With returns a set containing fp. Adding a present fingerprint or an
// empty string returns an equivalent set.
func (s TrustedDeviceSet) With(fp string) TrustedDeviceSet {
	if fp == "" || s.Has(fp) {
		return s
	}
	next := make(map[string]struct{}, len(s.fingerprints)+1)
	for k := range s.fingerprints {
		next[k] = struct{}{}
	}
	next[fp] = struct{}{}
	return TrustedDeviceSet{fingerprints: next}
}

// Without returns a set with fp removed. Removing an absent fingerprint
// returns an equivalent set.
func (s TrustedDeviceSet) Without(fp string) TrustedDeviceSet {
	if !s.Has(fp) {
		return s
	}
	next := make(map[string]struct{}, len(s.fingerprints)-1)
	for k := range s.fingerprints {
		if k != fp {
			next[k] = struct{}{}
		}
	}
	return TrustedDeviceSet{fingerprints: next}
}

// Len returns the number of fingerprints in the set.
func (s TrustedDeviceSet) Len() int {
	return len(s.fingerprints)
}

// List returns the fingerprints in sorted order.
func (s TrustedDeviceSet) List() []string {
	out := make([]string, 0, len(s.fingerprints))
	for fp := range s.fingerprints {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s TrustedDeviceSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes a JSON array of fingerprints.
func (s *TrustedDeviceSet) UnmarshalJSON(data []byte) error {
	var fps []string
	if err := json.Unmarshal(data, &fps); err != nil {
		return err
	}
	*s = NewTrustedDeviceSet(fps...)
	return nil
}
