// Package auth implements the obs-websocket v5 challenge-response digest.
package auth

import (
	"crypto/sha256"
	"encoding/base64"
)

// SolveChallenge computes the authentication token sent back in Identify:
// base64(sha256(challenge + salt + password)).
//
// Note: the upstream obs-websocket 5.x reference hashes in two stages
// (base64(sha256(password+salt)) then +challenge). obslink keeps the
// single-stage digest for compatibility with the controllers it replaces;
// see DESIGN.md before changing the order.
func SolveChallenge(password, challenge, salt string) string {
	sum := sha256.Sum256([]byte(challenge + salt + password))
	return base64.StdEncoding.EncodeToString(sum[:])
}
