// Package identifiers mints the opaque identifiers used across sketchroom:
// short session tokens, per-connection user identifiers, and element
// identifiers.
package identifiers

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	// sessionIDLength is the number of base-36 characters in a session
	// token (~36 bits of entropy). Sessions are unauthenticated shared
	// spaces; the token is a handle, not a secret.
	sessionIDLength = 7

	// userIDLength is the number of random characters after the "u" prefix.
	userIDLength = 8

	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewSessionID returns a fresh lowercase alphanumeric session token.
func NewSessionID() string {
	return randomToken(sessionIDLength)
}

// NewUserID returns a fresh subscriber identifier, e.g. "u3k9fz01a".
func NewUserID() string {
	return "u" + randomToken(userIDLength)
}

// NewElementID returns a fresh element identifier. Elements use UUIDs so
// identifiers minted by independent clients never collide within a session.
func NewElementID() string {
	return "el-" + uuid.NewString()
}

func randomToken(length int) string {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform entropy source is
			// broken, at which point nothing in this process is safe.
			panic(err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf)
}
