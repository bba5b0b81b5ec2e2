// Package b64 provides the byte/base64 helpers shared by the envelope codec
// and the rendezvous broker's relay-credential minting.
package b64

import "encoding/base64"

// URLEncode renders raw bytes as unpadded URL-safe base64, the encoding used
// for every binary envelope field (salt, iv, ciphertext) and for chunk
// payloads in the transport framing.
func URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// URLDecode reverses URLEncode. It also accepts padded input so that
// hand-pasted or QR-rescanned packets that picked up trailing '=' survive.
func URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// StdEncode renders raw bytes as standard padded base64, used for the
// HMAC-SHA1 TURN credential (§4.6) which follows RFC 5389 turn-rest-api
// convention of standard base64.
func StdEncode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
