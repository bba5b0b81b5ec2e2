package broker

import (
	"crypto/hmac"
	"crypto/sha1"
	"fmt"
	"regexp"
	"time"

	"github.com/n0remac/p2pcall/internal/b64"
)

// MinTurnTTL is the floor buildTurnCredentials enforces on the configured
// TTL (spec §4.6).
const MinTurnTTL = 30 * time.Second

var peerIDSanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizePeerID strips everything outside [A-Za-z0-9_-] and truncates to
// 40 runes (spec §4.6).
func sanitizePeerID(peerID string) string {
	cleaned := peerIDSanitizePattern.ReplaceAllString(peerID, "")
	runes := []rune(cleaned)
	if len(runes) > 40 {
		runes = runes[:40]
	}
	return string(runes)
}

// TurnCredentials is the relay credential pair handed to a peer for NAT
// traversal (spec §3, §4.6).
type TurnCredentials struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTLSeconds int      `json:"ttlSeconds"`
}

// BuildTurnCredentials mints a short-lived (username, credential) pair a
// peer can present to the relay server (spec §4.6). With an empty shared
// secret, username/credential are empty and urls pass through unchanged;
// the function is otherwise deterministic in (peerID, now).
func BuildTurnCredentials(urls []string, sharedSecret, peerID string, ttlSeconds int, now time.Time) TurnCredentials {
	ttl := ttlSeconds
	if time.Duration(ttl)*time.Second < MinTurnTTL {
		ttl = int(MinTurnTTL / time.Second)
	}

	if sharedSecret == "" {
		return TurnCredentials{URLs: urls, TTLSeconds: ttl}
	}

	expiry := now.Unix() + int64(ttl)
	username := fmt.Sprintf("%d:%s", expiry, sanitizePeerID(peerID))

	mac := hmac.New(sha1.New, []byte(sharedSecret))
	mac.Write([]byte(username))
	credential := b64.StdEncode(mac.Sum(nil))

	return TurnCredentials{URLs: urls, Username: username, Credential: credential, TTLSeconds: ttl}
}
