// Package boltprovider implements [authcore.AccountProvider] on top of a
// local bbolt database. It is meant for single-node deployments, demos,
// and tests; hosts with an existing account database implement the
// provider interface against that instead.
//
// Layout: the "accounts" bucket maps account ID to a JSON record, and
// the "identifiers" bucket maps the login identifier to the account ID.
// Every write runs inside one bbolt update transaction, so the engine's
// compare-and-swap contract on backup codes holds without extra locking.
package boltprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/halcyonlabs/authcore"
)

var (
	bucketAccounts    = []byte("accounts")
	bucketIdentifiers = []byte("identifiers")
)

// Store is a bbolt-backed account provider.
type Store struct {
	db *bbolt.DB
}

var _ authcore.AccountProvider = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the buckets
// exist.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAccounts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketIdentifiers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// accountRecord is the persisted JSON shape. Encrypted blobs round-trip
// through their own JSON codec, so the provider never sees plaintext
// two-factor material.
type accountRecord struct {
	AccountID      string                  `json:"accountId"`
	Identifier     string                  `json:"identifier"`
	PasswordHash   string                  `json:"passwordHash"`
	Active         bool                    `json:"active"`
	TOTPEnabled    bool                    `json:"totpEnabled"`
	TOTPSecret     *authcore.EncryptedBlob `json:"totpSecret,omitempty"`
	BackupCodes    *authcore.EncryptedBlob `json:"backupCodes,omitempty"`
	TrustedDevices []string                `json:"trustedDevices,omitempty"`
}

func toRecord(rec *accountRecord) *authcore.AccountRecord {
	return &authcore.AccountRecord{
		AccountID:      rec.AccountID,
		Identifier:     rec.Identifier,
		PasswordHash:   rec.PasswordHash,
		Active:         rec.Active,
		TOTPEnabled:    rec.TOTPEnabled,
		TOTPSecret:     rec.TOTPSecret,
		BackupCodes:    rec.BackupCodes,
		TrustedDevices: authcore.NewTrustedDeviceSet(rec.TrustedDevices...),
	}
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// CreateAccount registers a new active account and returns its ID. The
// password hash is stored as given; hash it with the password package
// before calling. Identifiers are unique case-insensitively.
func (s *Store) CreateAccount(_ context.Context, identifier, passwordHash string) (string, error) {
	ident := normalizeIdentifier(identifier)
	if ident == "" {
		return "", fmt.Errorf("identifier must not be empty")
	}
	accountID := uuid.NewString()
	rec := &accountRecord{
		AccountID:    accountID,
		Identifier:   ident,
		PasswordHash: passwordHash,
		Active:       true,
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idents := tx.Bucket(bucketIdentifiers)
		if idents.Get([]byte(ident)) != nil {
			return fmt.Errorf("identifier %q already registered", ident)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketAccounts).Put([]byte(accountID), data); err != nil {
			return err
		}
		return idents.Put([]byte(ident), []byte(accountID))
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

// SetActive flips the account's active flag. Deactivated accounts fail
// login with the same invalid-credentials answer as a wrong password.
func (s *Store) SetActive(_ context.Context, accountID string, active bool) error {
	return s.update(accountID, func(rec *accountRecord) error {
		rec.Active = active
		return nil
	})
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(_ context.Context, accountID, passwordHash string) error {
	return s.update(accountID, func(rec *accountRecord) error {
		rec.PasswordHash = passwordHash
		return nil
	})
}

func (s *Store) GetByIdentifier(_ context.Context, identifier string) (*authcore.AccountRecord, error) {
	var rec accountRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		accountID := tx.Bucket(bucketIdentifiers).Get([]byte(normalizeIdentifier(identifier)))
		if accountID == nil {
			return authcore.ErrAccountNotFound
		}
		data := tx.Bucket(bucketAccounts).Get(accountID)
		if data == nil {
			return authcore.ErrAccountNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return toRecord(&rec), nil
}

func (s *Store) GetByID(_ context.Context, accountID string) (*authcore.AccountRecord, error) {
	var rec accountRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(accountID))
		if data == nil {
			return authcore.ErrAccountNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return toRecord(&rec), nil
}

func (s *Store) EnableTwoFactor(_ context.Context, accountID string, update authcore.TwoFactorUpdate) error {
	return s.update(accountID, func(rec *accountRecord) error {
		rec.TOTPEnabled = true
		rec.TOTPSecret = update.Secret
		rec.BackupCodes = update.BackupCodes
		return nil
	})
}

func (s *Store) ClearTwoFactor(_ context.Context, accountID string) error {
	return s.update(accountID, func(rec *accountRecord) error {
		rec.TOTPEnabled = false
		rec.TOTPSecret = nil
		rec.BackupCodes = nil
		rec.TrustedDevices = nil
		return nil
	})
}

func (s *Store) ReplaceBackupCodes(_ context.Context, accountID string, next, prev *authcore.EncryptedBlob) error {
	return s.update(accountID, func(rec *accountRecord) error {
		if !blobsEqual(rec.BackupCodes, prev) {
			return authcore.ErrBackupCodesConflict
		}
		rec.BackupCodes = next
		return nil
	})
}

func (s *Store) AddTrustedDevice(_ context.Context, accountID, fingerprint string) error {
	return s.update(accountID, func(rec *accountRecord) error {
		for _, fp := range rec.TrustedDevices {
			if fp == fingerprint {
				return nil
			}
		}
		rec.TrustedDevices = append(rec.TrustedDevices, fingerprint)
		return nil
	})
}

// update loads the record, applies fn, and writes it back in one
// transaction.
func (s *Store) update(accountID string, fn func(*accountRecord) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		data := b.Get([]byte(accountID))
		if data == nil {
			return authcore.ErrAccountNotFound
		}
		var rec accountRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		out, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(accountID), out)
	})
}

func blobsEqual(a, b *authcore.EncryptedBlob) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IV == b.IV && bytes.Equal(a.Data, b.Data)
}
