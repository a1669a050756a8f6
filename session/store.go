package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the backing Redis cannot be reached.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// claimFingerprintScript atomically gives the fingerprint to a new session.
// Whatever session currently holds the fingerprint is deleted and unindexed
// in the same script, so no interleaving can observe two live sessions on
// one fingerprint or a gap where the eviction happened but the new session
// does not exist yet.
const claimFingerprintScript = `
local fp_key = KEYS[1]
local session_key = KEYS[2]
local acct_key = KEYS[3]
local count_key = KEYS[4]
local session_prefix = ARGV[1]
local acct_prefix = ARGV[2]
local session_id = ARGV[3]
local account_id = ARGV[4]
local blob = ARGV[5]
local ttl_ms = tonumber(ARGV[6])

local evicted_sid = ""
local evicted_acct = ""

local old_sid = redis.call("HGET", fp_key, "sid")
local old_acct = redis.call("HGET", fp_key, "acct")
if old_sid and old_sid ~= session_id then
  local existed = redis.call("DEL", session_prefix .. old_sid)
  if old_acct then
    redis.call("SREM", acct_prefix .. old_acct, old_sid)
  end
  if existed == 1 then
    evicted_sid = old_sid
    evicted_acct = old_acct
    local count = tonumber(redis.call("GET", count_key) or "0")
    if count > 1 then
      redis.call("DECR", count_key)
    elseif count == 1 then
      redis.call("DEL", count_key)
    end
  end
end

redis.call("SET", session_key, blob, "PX", ttl_ms)
redis.call("SADD", acct_key, session_id)
redis.call("HSET", fp_key, "sid", session_id, "acct", account_id)
redis.call("PEXPIRE", fp_key, ttl_ms)
redis.call("INCR", count_key)

return {evicted_sid, evicted_acct}
`

var claimFingerprintLua = redis.NewScript(claimFingerprintScript)

// evictFingerprintScript removes whichever session holds the fingerprint.
const evictFingerprintScript = `
local fp_key = KEYS[1]
local count_key = KEYS[2]
local session_prefix = ARGV[1]
local acct_prefix = ARGV[2]

local old_sid = redis.call("HGET", fp_key, "sid")
local old_acct = redis.call("HGET", fp_key, "acct")
redis.call("DEL", fp_key)
if not old_sid then
  return {"", ""}
end

local existed = redis.call("DEL", session_prefix .. old_sid)
if old_acct then
  redis.call("SREM", acct_prefix .. old_acct, old_sid)
end
if existed == 1 then
  local count = tonumber(redis.call("GET", count_key) or "0")
  if count > 1 then
    redis.call("DECR", count_key)
  elseif count == 1 then
    redis.call("DEL", count_key)
  end
  return {old_sid, old_acct}
end
return {"", ""}
`

var evictFingerprintLua = redis.NewScript(evictFingerprintScript)

// deleteSessionScript removes one session and every index entry that still
// points at it. The fingerprint index is cleared only if it still names
// this session, so a concurrent claim by another login is never undone.
const deleteSessionScript = `
local session_key = KEYS[1]
local acct_key = KEYS[2]
local fp_key = KEYS[3]
local count_key = KEYS[4]
local session_id = ARGV[1]

local existed = redis.call("EXISTS", session_key)
redis.call("SREM", acct_key, session_id)
if redis.call("HGET", fp_key, "sid") == session_id then
  redis.call("DEL", fp_key)
end
if existed == 1 then
  redis.call("DEL", session_key)
  local count = tonumber(redis.call("GET", count_key) or "0")
  if count > 1 then
    redis.call("DECR", count_key)
  elseif count == 1 then
    redis.call("DEL", count_key)
  end
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Registry is the Redis-backed session store. It owns persistence,
// expiration, and the per-fingerprint uniqueness index.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRegistry creates a session [Registry] backed by the given Redis
// client. prefix sets the Redis key namespace; all index keys derive
// from it. Expiry checks use now; pass nil for the wall clock. Callers
// that stamp ExpiresAt from an injected clock must pass the same clock
// here.
func NewRegistry(redisClient redis.UniversalClient, prefix string, now func() time.Time) *Registry {
	if prefix == "" {
		prefix = "as"
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (r *Registry) sessionPrefix() string {
	return r.prefix + ":"
}

func (r *Registry) key(sessionID string) string {
	return r.sessionPrefix() + sessionID
}

func (r *Registry) acctPrefix() string {
	return r.prefix + ":aa:"
}

func (r *Registry) acctKey(accountID string) string {
	return r.acctPrefix() + accountID
}

func (r *Registry) fpKey(fingerprint string) string {
	return r.prefix + ":af:" + fingerprint
}

func (r *Registry) countKey() string {
	return r.prefix + ":count"
}

// Create persists sess and claims its fingerprint, atomically displacing
// whichever session held that fingerprint before. Returns the displaced
// session, or nil when the fingerprint was free.
func (r *Registry) Create(ctx context.Context, sess *Session, ttl time.Duration) (*Evicted, error) {
	if sess.SessionID == "" || sess.AccountID == "" || sess.Fingerprint == "" {
		return nil, errors.New("session missing id, account, or fingerprint")
	}

	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	res, err := claimFingerprintLua.Run(ctx, r.redis,
		[]string{r.fpKey(sess.Fingerprint), r.key(sess.SessionID), r.acctKey(sess.AccountID), r.countKey()},
		r.sessionPrefix(), r.acctPrefix(), sess.SessionID, sess.AccountID, data, ttl.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return evictedFromScript(res)
}

// EvictByFingerprint removes whichever session currently holds fingerprint.
// Returns the displaced session, or nil when none existed.
func (r *Registry) EvictByFingerprint(ctx context.Context, fingerprint string) (*Evicted, error) {
	res, err := evictFingerprintLua.Run(ctx, r.redis,
		[]string{r.fpKey(fingerprint), r.countKey()},
		r.sessionPrefix(), r.acctPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return evictedFromScript(res)
}

func evictedFromScript(res interface{}) (*Evicted, error) {
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, errors.New("unexpected script reply")
	}
	sid, _ := vals[0].(string)
	acct, _ := vals[1].(string)
	if sid == "" {
		return nil, nil
	}
	return &Evicted{SessionID: sid, AccountID: acct}, nil
}

// Get retrieves a session by ID. Expired records are deleted lazily and
// reported as [ErrNotFound].
func (r *Registry) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if r.now().Unix() > sess.ExpiresAt {
		if err := r.Delete(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return sess, nil
}

// Delete removes sess and its index entries. Deleting an absent session
// is a no-op.
func (r *Registry) Delete(ctx context.Context, sess *Session) error {
	err := deleteSessionLua.Run(ctx, r.redis,
		[]string{r.key(sess.SessionID), r.acctKey(sess.AccountID), r.fpKey(sess.Fingerprint), r.countKey()},
		sess.SessionID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteByID resolves sessionID and removes the session. Returns the
// deleted session, or nil when it did not exist.
func (r *Registry) DeleteByID(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.Delete(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteAllForAccount removes every session of accountID and returns how
// many were deleted.
//
// ATOMICITY NOTE: this reads the account's session set and then deletes
// each member. A session created between the read and the deletes is not
// captured. The window only affects logout-all semantics; the stray
// session is caught by the next call or expires on its own.
func (r *Registry) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	return r.deleteAllForAccountExcept(ctx, accountID, "")
}

// DeleteAllForAccountExcept removes every session of accountID other than
// keepSessionID and returns how many were deleted.
func (r *Registry) DeleteAllForAccountExcept(ctx context.Context, accountID, keepSessionID string) (int, error) {
	return r.deleteAllForAccountExcept(ctx, accountID, keepSessionID)
}

func (r *Registry) deleteAllForAccountExcept(ctx context.Context, accountID, keepSessionID string) (int, error) {
	sessionIDs, err := r.redis.SMembers(ctx, r.acctKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	deleted := 0
	for _, sid := range sessionIDs {
		if sid == keepSessionID {
			continue
		}
		sess, err := r.Get(ctx, sid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Stale index entry.
				_ = r.redis.SRem(ctx, r.acctKey(accountID), sid).Err()
				continue
			}
			return deleted, err
		}
		if err := r.Delete(ctx, sess); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

// ActiveSessionIDs returns tracked session IDs for an account.
func (r *Registry) ActiveSessionIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := r.redis.SMembers(ctx, r.acctKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveSessionCount returns the tracked registry-wide session counter.
func (r *Registry) ActiveSessionCount(ctx context.Context) (int, error) {
	count, err := r.redis.Get(ctx, r.countKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// FingerprintHolder reports which session currently holds fingerprint.
// Returns ("", "") when the fingerprint is free.
func (r *Registry) FingerprintHolder(ctx context.Context, fingerprint string) (sessionID, accountID string, err error) {
	vals, err := r.redis.HGetAll(ctx, r.fpKey(fingerprint)).Result()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return vals["sid"], vals["acct"], nil
}
