package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/n0remac/p2pcall/internal/aead"
	"github.com/n0remac/p2pcall/internal/b64"
	"github.com/n0remac/p2pcall/internal/failure"
	"github.com/n0remac/p2pcall/internal/validate"
)

// MediaTarget1080p30 is the only offer media target this codec speaks
// (spec §3).
const MediaTarget1080p30 = "1080p30"

const (
	MaxSDPChars       = 30_000
	MaxCandidateChars = 2048
	MaxCandidates     = 96
)

// OfferPayload is the offline-mode offer (spec §3).
type OfferPayload struct {
	SessionID     string   `json:"sessionId"`
	SDPOffer      string   `json:"sdpOffer"`
	ICECandidates []string `json:"iceCandidates"`
	MediaTarget   string   `json:"mediaTarget"`
	ClientInfo    string   `json:"clientInfo"`
}

// AnswerPayload is the offline-mode answer (spec §3).
type AnswerPayload struct {
	SessionID           string   `json:"sessionId"`
	SDPAnswer           string   `json:"sdpAnswer"`
	ICECandidates       []string `json:"iceCandidates"`
	AcceptedMediaTarget string   `json:"acceptedMediaTarget"`
	ClientInfo          string   `json:"clientInfo"`
}

func validateCandidates(candidates []string) error {
	if err := validate.MaxInt("iceCandidates", len(candidates), MaxCandidates); err != nil {
		return err
	}
	for i, c := range candidates {
		if err := validate.MaxLen(fmt.Sprintf("iceCandidates[%d]", i), c, MaxCandidateChars); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOffer applies the offer payload schema (spec §3).
func ValidateOffer(p OfferPayload) error {
	if err := validate.MinLen("sessionId", p.SessionID, 1); err != nil {
		return err
	}
	if err := validate.MaxLen("sdpOffer", p.SDPOffer, MaxSDPChars); err != nil {
		return err
	}
	if err := validateCandidates(p.ICECandidates); err != nil {
		return err
	}
	return validate.OneOf("mediaTarget", p.MediaTarget, MediaTarget1080p30)
}

// ValidateAnswer applies the answer payload schema (spec §3).
func ValidateAnswer(p AnswerPayload) error {
	if err := validate.MinLen("sessionId", p.SessionID, 1); err != nil {
		return err
	}
	if err := validate.MaxLen("sdpAnswer", p.SDPAnswer, MaxSDPChars); err != nil {
		return err
	}
	if err := validateCandidates(p.ICECandidates); err != nil {
		return err
	}
	return validate.OneOf("acceptedMediaTarget", p.AcceptedMediaTarget, MediaTarget1080p30)
}

// EncodeOffer builds a chunked packet carrying an offer (spec §4.2).
func EncodeOffer(p OfferPayload, passphrase, roomCode string, now time.Time) (string, error) {
	if err := ValidateOffer(p); err != nil {
		return "", err
	}
	return Encode(p, TypeOffer, RoleHost, passphrase, roomCode, now)
}

// EncodeAnswer builds a chunked packet carrying an answer (spec §4.2).
func EncodeAnswer(p AnswerPayload, passphrase, roomCode string, now time.Time) (string, error) {
	if err := ValidateAnswer(p); err != nil {
		return "", err
	}
	return Encode(p, TypeAnswer, RoleJoiner, passphrase, roomCode, now)
}

// decryptCommon enforces the cross-consistency and expiry checks shared by
// DecryptOffer/DecryptAnswer (spec §4.2), then opens the ciphertext.
func decryptCommon(e Envelope, wantType Type, wantRole Role, roomCode, passphrase string, now time.Time, cooldown *aead.Cooldown) ([]byte, error) {
	if cooldown != nil {
		if err := cooldown.Check(); err != nil {
			return nil, err
		}
	}

	if e.RoomCode != roomCode {
		return nil, fmt.Errorf("envelope: room code does not match")
	}
	if now.UnixMilli() > e.ExpiresAt {
		return nil, failure.ErrPacketExpired
	}
	if e.Type != wantType || e.SenderRole != wantRole {
		return nil, fmt.Errorf("envelope: type/senderRole mismatch for %s", wantType)
	}

	salt, err := decodeOrFail(e.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeOrFail(e.IV)
	if err != nil {
		return nil, err
	}
	ciphertext, err := decodeOrFail(e.Ciphertext)
	if err != nil {
		return nil, err
	}

	key := aead.DeriveKey(passphrase, roomCode, salt)
	plaintext, err := aead.Open(key, nonce, ciphertext, associatedData(e))
	if err != nil {
		if cooldown != nil {
			cooldown.RecordFailure()
		}
		return nil, err
	}
	if cooldown != nil {
		cooldown.RecordSuccess()
	}
	return plaintext, nil
}

func decodeOrFail(s string) ([]byte, error) {
	b, err := b64.URLDecode(s)
	if err != nil {
		return nil, failure.ErrDecryptionFailed
	}
	return b, nil
}

// DecryptOffer validates an offer envelope against the caller's room code,
// checks expiry and offer↔host consistency, recomputes associated data from
// the received envelope, decrypts, and validates the payload schema (spec
// §4.2). cooldown may be nil to skip brute-force tracking (e.g. for the
// joiner's one-shot decode of a trusted local packet).
func DecryptOffer(e Envelope, roomCode, passphrase string, now time.Time, cooldown *aead.Cooldown) (OfferPayload, error) {
	plaintext, err := decryptCommon(e, TypeOffer, RoleHost, roomCode, passphrase, now, cooldown)
	if err != nil {
		return OfferPayload{}, err
	}
	var p OfferPayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return OfferPayload{}, fmt.Errorf("envelope: invalid offer payload JSON: %w", err)
	}
	if err := ValidateOffer(p); err != nil {
		return OfferPayload{}, err
	}
	return p, nil
}

// DecryptAnswer is DecryptOffer's mirror for the answer↔joiner leg.
func DecryptAnswer(e Envelope, roomCode, passphrase string, now time.Time, cooldown *aead.Cooldown) (AnswerPayload, error) {
	plaintext, err := decryptCommon(e, TypeAnswer, RoleJoiner, roomCode, passphrase, now, cooldown)
	if err != nil {
		return AnswerPayload{}, err
	}
	var p AnswerPayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return AnswerPayload{}, fmt.Errorf("envelope: invalid answer payload JSON: %w", err)
	}
	if err := ValidateAnswer(p); err != nil {
		return AnswerPayload{}, err
	}
	return p, nil
}
