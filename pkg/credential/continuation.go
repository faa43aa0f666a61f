package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfSalt and kdfIterations fix the PBKDF2 parameters for continuation
	// token keys. Changing either invalidates all outstanding tokens.
	kdfSalt       = "email-encryption-salt"
	kdfIterations = 100000
	kdfKeyLength  = 32

	gcmNonceSize = 12
)

// continuationWrapper is the outer structure of a continuation token: the
// AES-GCM ciphertext and the nonce used to produce it.
type continuationWrapper struct {
	Data  string `json:"d"`
	Nonce string `json:"i"`
}

// IssueContinuation encrypts payload under the master secret. The creation
// timestamp is appended to the plaintext before encryption so expiry is
// covered by the GCM authentication tag.
func (c *Codec) IssueContinuation(payload []byte) (string, error) {
	return c.IssueContinuationWithKey(payload, string(c.masterSecret))
}

// IssueContinuationWithKey encrypts payload under a key derived from the
// supplied key material. OIDC authorization codes use the derived client
// secret here, binding the code to the client that will redeem it.
func (c *Codec) IssueContinuationWithKey(payload []byte, keyMaterial string) (string, error) {
	aead, err := c.aead(keyMaterial)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	plaintext := append(payload, []byte("|"+strconv.FormatInt(time.Now().UnixMilli(), 10))...)
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	wrapper := continuationWrapper{
		Data:  base64.StdEncoding.EncodeToString(ciphertext),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
	}
	wrapperBytes, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("failed to encode continuation token: %w", err)
	}

	return continuationPrefix + base64.RawURLEncoding.EncodeToString(wrapperBytes), nil
}

// VerifyContinuation decrypts a master-secret continuation token and
// enforces the validity window.
func (c *Codec) VerifyContinuation(token string, maxAge time.Duration) ([]byte, time.Time, error) {
	return c.VerifyContinuationWithKey(token, string(c.masterSecret), maxAge)
}

// VerifyContinuationWithKey decrypts a continuation token with a key derived
// from the supplied key material. A wrong key fails GCM authentication and
// returns ErrInvalidToken; garbage plaintext is never surfaced.
func (c *Codec) VerifyContinuationWithKey(token, keyMaterial string, maxAge time.Duration) ([]byte, time.Time, error) {
	if len(token) < 2 || token[:1] != continuationPrefix {
		return nil, time.Time{}, fmt.Errorf("%w: missing type marker", ErrInvalidToken)
	}

	wrapperBytes, err := decodeBase64URL(token[1:])
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var wrapper continuationWrapper
	if err := json.Unmarshal(wrapperBytes, &wrapper); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(wrapper.Data)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(wrapper.Nonce)
	if err != nil || len(nonce) != gcmNonceSize {
		return nil, time.Time{}, fmt.Errorf("%w: bad nonce", ErrInvalidToken)
	}

	aead, err := c.aead(keyMaterial)
	if err != nil {
		return nil, time.Time{}, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: decryption failed", ErrInvalidToken)
	}

	// The timestamp is the suffix after the last '|'; the payload itself
	// may contain the delimiter.
	sep := strings.LastIndexByte(string(plaintext), '|')
	if sep < 0 {
		return nil, time.Time{}, fmt.Errorf("%w: missing timestamp", ErrInvalidToken)
	}
	millis, err := strconv.ParseInt(string(plaintext[sep+1:]), 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: bad timestamp", ErrInvalidToken)
	}

	issuedAt := time.UnixMilli(millis)
	if time.Since(issuedAt) > maxAge {
		return nil, issuedAt, ErrExpired
	}

	return plaintext[:sep], issuedAt, nil
}

// aead builds the AES-GCM cipher for the given key material, consulting the
// derived-key cache first. PBKDF2 at 100k iterations is too expensive to
// repeat on every request for the same key.
func (c *Codec) aead(keyMaterial string) (cipher.AEAD, error) {
	cacheKey := hex.EncodeToString(sha256sum([]byte(keyMaterial)))

	key, ok := c.derivedKeys.Get(cacheKey)
	if !ok {
		key = pbkdf2.Key([]byte(keyMaterial), []byte(kdfSalt), kdfIterations, kdfKeyLength, sha256.New)
		c.derivedKeys.Add(cacheKey, key)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func sha256sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
