// Package auth provides authentication for carrel's socket endpoint.
//
// # Authentication Methods
//
// The configured auth mode picks one of three authenticators applied
// to the WebSocket upgrade request:
//
//   - none: every request is admitted as the anonymous principal.
//
//   - token: the client presents a JWT bearer token in the
//     Authorization header. Tokens are signed with HS256 using the
//     configured jwt_secret; issuer and audience are checked when
//     configured, and every minted token carries a unique jti.
//
//   - ssh: the client signs "timestamp|nonce" with its SSH key and
//     sends the key, signature, timestamp, and nonce in X-Carrel-*
//     headers. The signature is verified, the key is matched against
//     the authorized_keys allow-list, and nonces are cached to block
//     replays within the timestamp window.
//
// # Principals
//
// The authenticated identity travels in the request context as an
// AuthContext: the JWT subject in token mode, the key's SHA256
// fingerprint in ssh mode. It exists for connection logs; method
// handlers never branch on it.
package auth
