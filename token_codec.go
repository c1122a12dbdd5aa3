package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// MinTokenSize is the minimum number of random bytes in an unhashed token
const MinTokenSize = 32

// TokenPair is a one-time token. Unhashed is delivered to the user once,
// only Hashed and Expiry are persisted.
type TokenPair struct {
	Unhashed string
	Hashed   string
	Expiry   time.Time
}

// Expired uses an exclusive upper bound, a token expiring now is expired.
func (p TokenPair) Expired(now time.Time) bool {
	return !now.Before(p.Expiry)
}

// TokenCodec mints random tokens and derives their storage digest.
type TokenCodec struct {
	rand io.Reader
	now  func() time.Time
	size int
}

// TokenCodecOption customizes a TokenCodec
type TokenCodecOption func(*TokenCodec)

// WithTokenRandom sets the randomness source, tests pass a seeded reader.
func WithTokenRandom(r io.Reader) TokenCodecOption {
	return func(c *TokenCodec) {
		if r != nil {
			c.rand = r
		}
	}
}

// WithTokenClock sets the clock used to compute expiries
func WithTokenClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTokenSize sets the number of random bytes, values below MinTokenSize are ignored
func WithTokenSize(size int) TokenCodecOption {
	return func(c *TokenCodec) {
		if size >= MinTokenSize {
			c.size = size
		}
	}
}

// NewTokenCodec returns a codec backed by crypto/rand
func NewTokenCodec(opts ...TokenCodecOption) *TokenCodec {
	c := &TokenCodec{
		rand: rand.Reader,
		now:  time.Now,
		size: MinTokenSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Generate mints a token pair valid for ttl.
// It panics when the random source fails: a predictable token is never acceptable.
func (c *TokenCodec) Generate(ttl time.Duration) TokenPair {
	buf := make([]byte, c.size)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		panic(fmt.Sprintf("auth: secure random source failed: %v", err))
	}

	unhashed := hex.EncodeToString(buf)

	return TokenPair{
		Unhashed: unhashed,
		Hashed:   HashToken(unhashed),
		Expiry:   c.now().Add(ttl).UTC().Truncate(time.Microsecond),
	}
}

// Hash returns the storage digest of token
func (c *TokenCodec) Hash(token string) string {
	return HashToken(token)
}

// Now returns the codec clock reading
func (c *TokenCodec) Now() time.Time {
	return c.now()
}

// HashToken is the deterministic digest used for equality lookups. It is
// not a password hash, there is no salt.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
