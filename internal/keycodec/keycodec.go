package keycodec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	groupCount = 5
	groupSize  = 4
)

// keyEncoding produces the human-enterable alphabet (A-Z, 2-7), no padding.
var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Codec derives and verifies license keys. A key is a deterministic function
// of (device id, expiry, secret); the codec holds no other state.
type Codec struct {
	secret []byte
}

func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret must not be empty")
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Derive computes the license key for a device and expiry as grouped
// alphanumeric blocks, e.g. "Q7HM-2A4K-ZP3X-B6TN-R5WD". Expiry participates
// at second granularity; callers must persist the same truncation they sign.
func (c *Codec) Derive(deviceID string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(canonicalMessage(deviceID, expiresAt))
	digest := mac.Sum(nil)

	encoded := keyEncoding.EncodeToString(digest)[:groupCount*groupSize]

	groups := make([]string, groupCount)
	for i := range groups {
		groups[i] = encoded[i*groupSize : (i+1)*groupSize]
	}
	return strings.Join(groups, "-")
}

// Verify recomputes the expected key and compares in constant time. Any
// change to device id, expiry or secret flips the result to false.
func (c *Codec) Verify(deviceID string, expiresAt time.Time, candidate string) bool {
	expected := c.Derive(deviceID, expiresAt)
	return hmac.Equal([]byte(expected), []byte(candidate))
}

// canonicalMessage length-prefixes the device id so field boundaries are
// unambiguous: ("a|b", 1) and ("a", ...) can never encode to the same bytes.
func canonicalMessage(deviceID string, expiresAt time.Time) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(deviceID)+8)
	buf = binary.AppendUvarint(buf, uint64(len(deviceID)))
	buf = append(buf, deviceID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(expiresAt.Unix()))
	return buf
}
