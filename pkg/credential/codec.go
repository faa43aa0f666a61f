package credential

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	clientIDPrefix     = "c"
	clientSecretPrefix = "s"
	continuationPrefix = "e"
	accessTokenPrefix  = "a"

	// clientSecretLength is the number of hex characters kept from the
	// HMAC over the app GUID.
	clientSecretLength = 32

	// derivedKeyCacheSize bounds the PBKDF2 result cache. Entries are pure
	// derived data, so eviction only costs a re-derivation.
	derivedKeyCacheSize = 256
)

var (
	// ErrInvalidClient is returned when a client id or client secret fails
	// decoding or signature verification.
	ErrInvalidClient = errors.New("invalid client credentials")

	// ErrInvalidToken is returned when a continuation token cannot be
	// decoded or decrypted.
	ErrInvalidToken = errors.New("invalid continuation token")

	// ErrExpired is returned when a continuation token is older than the
	// caller's validity window.
	ErrExpired = errors.New("continuation token expired")
)

// ClientIdentity is the registration payload recovered from a verified
// client id. It is never stored anywhere; the client id is the only copy.
type ClientIdentity struct {
	Name         string
	RedirectURIs []string
	AppGUID      string
	IssuedAt     time.Time
}

// HasRedirectURI reports whether uri is in the registered set.
func (ci *ClientIdentity) HasRedirectURI(uri string) bool {
	for _, u := range ci.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// clientPayload is the signed portion of a client id. Short keys keep the
// encoded token compact enough for query parameters.
type clientPayload struct {
	Name         string   `json:"n"`
	RedirectURIs []string `json:"r"`
	AppGUID      string   `json:"g"`
	IssuedAtMS   int64    `json:"t"`
}

// clientWrapper is the outer structure of a client id: the base64 payload
// bytes plus the hex HMAC-SHA256 signature over those exact bytes.
type clientWrapper struct {
	Payload   string `json:"p"`
	Signature string `json:"s"`
}

// Codec issues and verifies the broker's stateless credentials. All methods
// are safe for concurrent use; the only mutable state is the derived-key
// cache, which golang-lru synchronizes internally.
type Codec struct {
	masterSecret []byte
	derivedKeys  *lru.Cache[string, []byte]
}

// NewCodec creates a codec bound to the given master secret.
func NewCodec(masterSecret string) (*Codec, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is required")
	}
	keys, err := lru.New[string, []byte](derivedKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}
	return &Codec{
		masterSecret: []byte(masterSecret),
		derivedKeys:  keys,
	}, nil
}

// IssueClientID mints a signed client id for a fresh application GUID.
// Format: "c" + base64url({p: base64(payload JSON), s: hex signature}).
func (c *Codec) IssueClientID(name string, redirectURIs []string) (string, error) {
	payload := clientPayload{
		Name:         name,
		RedirectURIs: redirectURIs,
		AppGUID:      uuid.NewString(),
		IssuedAtMS:   time.Now().UnixMilli(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode client payload: %w", err)
	}

	wrapper := clientWrapper{
		Payload:   base64.StdEncoding.EncodeToString(payloadBytes),
		Signature: hex.EncodeToString(c.sign(payloadBytes)),
	}

	wrapperBytes, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("failed to encode client id: %w", err)
	}

	return clientIDPrefix + base64.RawURLEncoding.EncodeToString(wrapperBytes), nil
}

// VerifyClientID decodes a client id and checks its signature against the
// master secret. The payload is authoritative: nothing is looked up.
func (c *Codec) VerifyClientID(clientID string) (*ClientIdentity, error) {
	payload, err := c.decodeClientPayload(clientID, true)
	if err != nil {
		return nil, err
	}
	return &ClientIdentity{
		Name:         payload.Name,
		RedirectURIs: payload.RedirectURIs,
		AppGUID:      payload.AppGUID,
		IssuedAt:     time.UnixMilli(payload.IssuedAtMS),
	}, nil
}

// PeekClientName extracts the registered application name without verifying
// the signature. Display use only; never trust this for authorization.
func (c *Codec) PeekClientName(clientID string) (string, error) {
	payload, err := c.decodeClientPayload(clientID, false)
	if err != nil {
		return "", err
	}
	return payload.Name, nil
}

// ClientSecret derives the client secret for an app GUID. Deterministic:
// the same GUID and master secret always produce the same secret, so no
// storage is needed to validate it later.
func (c *Codec) ClientSecret(appGUID string) string {
	sig := hex.EncodeToString(c.sign([]byte(appGUID)))
	return clientSecretPrefix + sig[:clientSecretLength]
}

// VerifyClientCredentials verifies the client id, then re-derives the
// expected secret from the recovered GUID and compares it against the
// supplied one.
func (c *Codec) VerifyClientCredentials(clientID, clientSecret string) (*ClientIdentity, error) {
	identity, err := c.VerifyClientID(clientID)
	if err != nil {
		return nil, err
	}
	expected := c.ClientSecret(identity.AppGUID)
	if !hmac.Equal([]byte(clientSecret), []byte(expected)) {
		return nil, fmt.Errorf("%w: secret mismatch", ErrInvalidClient)
	}
	return identity, nil
}

// IssueAccessToken mints an opaque bearer token.
// Format: "a" + base64url(32 random bytes).
func (c *Codec) IssueAccessToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return accessTokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// decodeClientPayload unwraps a client id; with verify set it also checks
// the embedded signature over the exact payload bytes.
func (c *Codec) decodeClientPayload(clientID string, verify bool) (*clientPayload, error) {
	if len(clientID) < 2 || clientID[:1] != clientIDPrefix {
		return nil, fmt.Errorf("%w: missing type marker", ErrInvalidClient)
	}

	wrapperBytes, err := decodeBase64URL(clientID[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}

	var wrapper clientWrapper
	if err := json.Unmarshal(wrapperBytes, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}

	payloadBytes, err := base64.StdEncoding.DecodeString(wrapper.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}

	if verify {
		sig, err := hex.DecodeString(wrapper.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
		}
		if !hmac.Equal(sig, c.sign(payloadBytes)) {
			return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidClient)
		}
	}

	var payload clientPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}
	return &payload, nil
}

// sign computes HMAC-SHA256 over data with the master secret.
func (c *Codec) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, c.masterSecret)
	mac.Write(data)
	return mac.Sum(nil)
}

// decodeBase64URL accepts both padded and unpadded URL-safe base64, since
// tokens travel through query parameters that may strip padding.
func decodeBase64URL(s string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// DecodeStrict unmarshals JSON into v, rejecting unknown fields. Flow-state
// payloads use this so a token minted for one step cannot be replayed into
// another with extra fields smuggled along.
func DecodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
