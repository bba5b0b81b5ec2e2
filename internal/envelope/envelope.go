// Package envelope implements the offline signal-packet codec (spec §4.2):
// build/parse the authenticated envelope, compress it, chunk it for
// human-mediated transport, and reverse all of that on the receiving side,
// including the decrypt-offer/decrypt-answer cross-consistency checks.
//
// Grounded on other_examples' atvirokodosprendimai-wgmesh
// pkg/crypto/envelope.go for the seal/open-with-replay-window shape;
// internal/aead and internal/b64 supply the crypto and encoding primitives.
package envelope

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n0remac/p2pcall/internal/aead"
	"github.com/n0remac/p2pcall/internal/b64"
	"github.com/n0remac/p2pcall/internal/failure"
	"github.com/n0remac/p2pcall/internal/validate"
)

// Version is the only envelope wire version this codec speaks.
const Version = 1

// MaxLifetime is the maximum envelope lifetime from creation (spec §3).
const MaxLifetime = 10 * time.Minute

// Chunk framing limits (spec §3).
const (
	ChunkPrefix        = "P2PV1"
	MaxChunkPayload    = 900
	MaxChunks          = 256
	MaxCompressedBytes = 120_000
	MaxDecompressedLen = 350_000
	MaxPacketTextLen   = 200_000
)

// Role is the sender's role within the room.
type Role string

const (
	RoleHost   Role = "host"
	RoleJoiner Role = "joiner"
)

// Type is the envelope payload kind.
type Type string

const (
	TypeOffer  Type = "offer"
	TypeAnswer Type = "answer"
)

// Envelope is the version-1 signal envelope (spec §3). Field order here IS
// the JSON field order Go's encoding/json emits, but the associated-data
// binding is built explicitly by associatedData below rather than relying
// on that order, so it stays pinned regardless of struct layout changes.
type Envelope struct {
	Version    int    `json:"version"`
	Type       Type   `json:"type"`
	RoomCode   string `json:"roomCode"`
	CreatedAt  int64  `json:"createdAt"` // unix milliseconds
	ExpiresAt  int64  `json:"expiresAt"`
	SenderRole Role   `json:"senderRole"`
	Salt       string `json:"salt"`       // url-safe base64
	IV         string `json:"iv"`         // url-safe base64
	Ciphertext string `json:"ciphertext"` // url-safe base64
}

// associatedData builds the ordered concatenation bound into the
// authentication tag (spec §3): version|type|roomCode|createdAt|expiresAt|senderRole.
// Only these six envelope fields are covered — chunk ids/indices are never
// part of authenticated data (spec §9).
func associatedData(e Envelope) []byte {
	parts := []string{
		strconv.Itoa(e.Version),
		string(e.Type),
		e.RoomCode,
		strconv.FormatInt(e.CreatedAt, 10),
		strconv.FormatInt(e.ExpiresAt, 10),
		string(e.SenderRole),
	}
	return []byte(strings.Join(parts, "|"))
}

func validateEnvelopeShape(e Envelope) error {
	if e.Version != Version {
		return fmt.Errorf("envelope: unsupported version %d", e.Version)
	}
	if err := validate.OneOf("type", string(e.Type), string(TypeOffer), string(TypeAnswer)); err != nil {
		return err
	}
	if err := validate.RoomCode(e.RoomCode); err != nil {
		return err
	}
	if err := validate.OneOf("senderRole", string(e.SenderRole), string(RoleHost), string(RoleJoiner)); err != nil {
		return err
	}
	salt, err := b64.URLDecode(e.Salt)
	if err != nil {
		return fmt.Errorf("envelope: salt is not valid base64: %w", err)
	}
	if err := validate.MinBytes("salt", salt, aead.MinSaltSize); err != nil {
		return err
	}
	iv, err := b64.URLDecode(e.IV)
	if err != nil {
		return fmt.Errorf("envelope: iv is not valid base64: %w", err)
	}
	if err := validate.MinBytes("iv", iv, aead.NonceSize); err != nil {
		return err
	}
	if _, err := b64.URLDecode(e.Ciphertext); err != nil {
		return fmt.Errorf("envelope: ciphertext is not valid base64: %w", err)
	}
	return validate.TimeWindow(e.CreatedAt, e.ExpiresAt, MaxLifetime.Milliseconds())
}

// Encode builds, encrypts, compresses and chunks a payload into the
// newline-separated transport text described in spec §6.
//
// now is the encode timestamp (caller-supplied so tests are deterministic);
// roomCode is canonicalized (trimmed) before it is stamped into the
// envelope and bound into associated data.
func Encode(payload interface{}, typ Type, senderRole Role, passphrase, roomCode string, now time.Time) (string, error) {
	roomCode = strings.TrimSpace(roomCode)
	if err := validate.RoomCode(roomCode); err != nil {
		return "", err
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal payload: %w", err)
	}

	salt, err := aead.NewSalt()
	if err != nil {
		return "", err
	}
	nonce, err := aead.NewNonce()
	if err != nil {
		return "", err
	}

	e := Envelope{
		Version:    Version,
		Type:       typ,
		RoomCode:   roomCode,
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(MaxLifetime).UnixMilli(),
		SenderRole: senderRole,
		Salt:       b64.URLEncode(salt),
		IV:         b64.URLEncode(nonce),
	}

	key := aead.DeriveKey(passphrase, roomCode, salt)
	ciphertext, err := aead.Seal(key, nonce, plaintext, associatedData(e))
	if err != nil {
		return "", err
	}
	e.Ciphertext = b64.URLEncode(ciphertext)

	envelopeJSON, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal envelope: %w", err)
	}

	compressed, err := gzipCompress(envelopeJSON)
	if err != nil {
		return "", err
	}
	encoded := b64.URLEncode(compressed)

	return chunk(encoded)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("envelope: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("envelope: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte, maxLen int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("envelope: gzip reader: %w", err)
	}
	defer r.Close()
	limited := io.LimitReader(r, int64(maxLen)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("envelope: gzip read: %w", err)
	}
	if len(out) > maxLen {
		return nil, fmt.Errorf("envelope: decompressed payload exceeds %d bytes", maxLen)
	}
	return out, nil
}

// chunk splits an encoded payload into PREFIX|packetId|i/N|payload lines.
func chunk(encoded string) (string, error) {
	total := (len(encoded) + MaxChunkPayload - 1) / MaxChunkPayload
	if total == 0 {
		total = 1
	}
	if total > MaxChunks {
		return "", failure.ErrPacketTooLarge
	}

	packetID := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]

	lines := make([]string, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxChunkPayload
		end := start + MaxChunkPayload
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, fmt.Sprintf("%s|%s|%d/%d|%s", ChunkPrefix, packetID, i+1, total, encoded[start:end]))
	}

	text := strings.Join(lines, "\n")
	if len(text) > MaxPacketTextLen {
		return "", failure.ErrPacketTooLarge
	}
	return text, nil
}
