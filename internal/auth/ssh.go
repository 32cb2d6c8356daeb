// ABOUTME: SSH public key authentication for socket clients
// ABOUTME: Verifies signatures over timestamp|nonce against an authorized key list

package auth

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/carrelhq/carrel/internal/dedupe"
)

const (
	// SSHAuthMaxAge is the maximum age of a signature timestamp (5 minutes).
	SSHAuthMaxAge = 5 * time.Minute

	// SSHNonceCacheSize is the maximum number of nonces to track.
	SSHNonceCacheSize = 10000

	// SSH auth header names on the upgrade request.
	SSHPubkeyHeader    = "X-Carrel-Pubkey"
	SSHSignatureHeader = "X-Carrel-Signature"
	SSHTimestampHeader = "X-Carrel-Timestamp"
	SSHNonceHeader     = "X-Carrel-Nonce"
)

// SSHAuthRequest contains the data sent by a client for SSH authentication.
type SSHAuthRequest struct {
	Pubkey    string // Full public key (e.g., "ssh-ed25519 AAAA...")
	Signature string // Base64-encoded signature over "timestamp|nonce"
	Timestamp int64  // Unix timestamp
	Nonce     string // Random string to prevent replay
}

// KeySet is the allow-list of client public keys, loaded from an
// authorized_keys style file.
type KeySet struct {
	fingerprints map[string]bool
}

// LoadAuthorizedKeys reads an authorized_keys file. Blank lines and #
// comments are skipped; any other unparseable line is an error.
func LoadAuthorizedKeys(path string) (*KeySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening authorized keys: %w", err)
	}
	defer f.Close()

	ks := &KeySet{fingerprints: make(map[string]bool)}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parsing authorized key on line %d: %w", lineNo, err)
		}
		ks.fingerprints[ComputeFingerprint(pubkey)] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading authorized keys: %w", err)
	}
	return ks, nil
}

// Contains reports whether a key fingerprint is in the allow-list.
func (k *KeySet) Contains(fingerprint string) bool {
	return k.fingerprints[fingerprint]
}

// Len returns the number of authorized keys.
func (k *KeySet) Len() int {
	return len(k.fingerprints)
}

// SSHVerifier verifies SSH signatures for client authentication. With a
// non-nil key set, only listed keys are accepted.
type SSHVerifier struct {
	maxAge     time.Duration
	keys       *KeySet
	nonceCache *dedupe.Cache // Tracks used nonces to prevent replay attacks
}

// NewSSHVerifier creates a new SSH signature verifier with nonce replay protection.
func NewSSHVerifier(keys *KeySet) *SSHVerifier {
	return &SSHVerifier{
		maxAge:     SSHAuthMaxAge,
		keys:       keys,
		nonceCache: dedupe.New(SSHAuthMaxAge, SSHNonceCacheSize),
	}
}

// Close releases resources used by the verifier.
func (v *SSHVerifier) Close() {
	if v.nonceCache != nil {
		v.nonceCache.Close()
	}
}

// Verify checks the SSH signature and returns the pubkey fingerprint if valid.
// The signature must be over the string "timestamp|nonce".
// Nonces are tracked to prevent replay attacks within the timestamp window.
func (v *SSHVerifier) Verify(req *SSHAuthRequest) (fingerprint string, err error) {
	// Parse the public key
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.Pubkey))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}

	// Check timestamp is recent
	signedAt := time.Unix(req.Timestamp, 0)
	age := time.Since(signedAt)
	if age < 0 {
		// Timestamp is in the future - allow small clock skew
		if age < -time.Minute {
			return "", errors.New("timestamp is in the future")
		}
	} else if age > v.maxAge {
		return "", fmt.Errorf("signature expired (age: %v, max: %v)", age, v.maxAge)
	}

	// Build the message that was signed: "timestamp|nonce"
	message := fmt.Sprintf("%d|%s", req.Timestamp, req.Nonce)

	// Decode the signature
	sigBytes, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}

	// Parse the SSH signature
	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return "", fmt.Errorf("invalid signature format: %w", err)
	}

	// Verify the signature
	if err := pubkey.Verify([]byte(message), sig); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	fp := ComputeFingerprint(pubkey)
	if v.keys != nil && !v.keys.Contains(fp) {
		return "", fmt.Errorf("public key %s is not authorized", fp[:16])
	}

	// Atomically check and mark nonce to prevent replay attacks.
	// The nonce key includes the fingerprint to prevent cross-key replay.
	// Using CheckAndMark avoids TOCTOU race where two concurrent requests
	// could both pass a Check before either reaches Mark.
	nonceKey := fmt.Sprintf("%s:%d:%s", fp, req.Timestamp, req.Nonce)
	if v.nonceCache.CheckAndMark(nonceKey) {
		return "", errors.New("nonce already used (possible replay attack)")
	}

	return fp, nil
}

// ComputeFingerprint computes the SHA256 fingerprint of a public key.
// Returns lowercase hex encoding without colons.
func ComputeFingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(hash[:])
}

// ParseFingerprintFromKey parses a public key string and returns its fingerprint.
// Useful for building authorized key lists.
func ParseFingerprintFromKey(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return ComputeFingerprint(pubkey), nil
}

// ExtractSSHAuthFromHeader extracts SSH auth fields from the upgrade
// request headers. Returns nil if no SSH auth headers are present.
func ExtractSSHAuthFromHeader(h http.Header) *SSHAuthRequest {
	pubkey := h.Get(SSHPubkeyHeader)
	signature := h.Get(SSHSignatureHeader)
	timestampStr := h.Get(SSHTimestampHeader)
	nonce := h.Get(SSHNonceHeader)

	// If any SSH header is present, treat it as SSH auth attempt
	if pubkey == "" && signature == "" && timestampStr == "" && nonce == "" {
		return nil
	}

	timestamp, _ := strconv.ParseInt(timestampStr, 10, 64)

	return &SSHAuthRequest{
		Pubkey:    strings.TrimSpace(pubkey),
		Signature: strings.TrimSpace(signature),
		Timestamp: timestamp,
		Nonce:     strings.TrimSpace(nonce),
	}
}
