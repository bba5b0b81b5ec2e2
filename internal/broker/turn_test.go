package broker

import (
	"testing"
	"time"
)

func TestBuildTurnCredentialsDeterministic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	urls := []string{"turn:relay.example.com:3478"}

	a := BuildTurnCredentials(urls, "s3cret", "peer-1", 3600, now)
	b := BuildTurnCredentials(urls, "s3cret", "peer-1", 3600, now)

	if a.Username != b.Username || a.Credential != b.Credential {
		t.Fatalf("expected deterministic credentials for identical inputs, got %+v vs %+v", a, b)
	}
	if a.Username == "" || a.Credential == "" {
		t.Fatal("expected non-empty username/credential with a shared secret configured")
	}
	if a.TTLSeconds != 3600 {
		t.Fatalf("got ttl %d, want 3600", a.TTLSeconds)
	}
}

func TestBuildTurnCredentialsEmptySharedSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	urls := []string{"turn:relay.example.com:3478"}

	creds := BuildTurnCredentials(urls, "", "peer-1", 3600, now)
	if creds.Username != "" || creds.Credential != "" {
		t.Fatalf("expected empty username/credential with no shared secret, got %+v", creds)
	}
	if len(creds.URLs) != 1 || creds.URLs[0] != urls[0] {
		t.Fatalf("expected urls to pass through unchanged, got %v", creds.URLs)
	}
}

func TestBuildTurnCredentialsEnforcesMinTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	creds := BuildTurnCredentials(nil, "secret", "peer-1", 5, now)
	if creds.TTLSeconds != 30 {
		t.Fatalf("got ttl %d, want floor of 30", creds.TTLSeconds)
	}
}

func TestSanitizePeerIDTruncatesAndStrips(t *testing.T) {
	in := "peer id with spaces!! abcdefghijklmnopqrstuvwxyz0123456789"
	out := sanitizePeerID(in)
	if len([]rune(out)) != 40 {
		t.Fatalf("expected sanitized peer id capped at 40 runes, got %d (%q)", len([]rune(out)), out)
	}
	for _, r := range out {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			t.Fatalf("sanitized peer id contains disallowed character %q", r)
		}
	}
}
