package authcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix      = "ac"
	challengeRecordVersion1 = 1
)

var errChallengeNotFound = errors.New("two-factor challenge not found")

// twoFactorChallenge is the server-side record behind a challenge
// reference. It pins the pending login to an account and device
// fingerprint and tracks failed verification attempts.
type twoFactorChallenge struct {
	AccountID   string
	Fingerprint string
	ExpiresAt   int64
	Attempts    uint16
}

type challengeStore struct {
	redis *redis.Client
	now   func() time.Time
}

func newChallengeStore(redisClient *redis.Client, now func() time.Time) *challengeStore {
	return &challengeStore{redis: redisClient, now: now}
}

func (s *challengeStore) key(challengeID string) string {
	return challengeKeyPrefix + ":" + challengeID
}

func (s *challengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *twoFactorChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return nil
}

func (s *challengeStore) Get(ctx context.Context, challengeID string) (*twoFactorChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it existed. The
// caller uses the result for replay detection: a second verification of
// the same reference finds nothing to consume.
func (s *challengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under optimistic
// locking. When the counter reaches maxAttempts the challenge is
// deleted and exceeded is true.
func (s *challengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (exceeded bool, err error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var hitLimit bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if s.now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				hitLimit = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return nil
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, errChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
		}
		return hitLimit, nil
	}

	return false, errChallengeNotFound
}

func encodeChallenge(record *twoFactorChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 || len(record.Fingerprint) > 65535 {
		return nil, errors.New("challenge field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Fingerprint))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Fingerprint)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*twoFactorChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &twoFactorChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var acctLen uint16
	if err := binary.Read(reader, binary.BigEndian, &acctLen); err != nil {
		return nil, err
	}
	acct := make([]byte, acctLen)
	if _, err := io.ReadFull(reader, acct); err != nil {
		return nil, err
	}
	record.AccountID = string(acct)

	var fpLen uint16
	if err := binary.Read(reader, binary.BigEndian, &fpLen); err != nil {
		return nil, err
	}
	fp := make([]byte, fpLen)
	if _, err := io.ReadFull(reader, fp); err != nil {
		return nil, err
	}
	record.Fingerprint = string(fp)

	return record, nil
}
