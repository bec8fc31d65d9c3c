package sse

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// loadOrCreateToken reads the persisted bearer token at path, generating a
// fresh 256-bit one on first run, matching spec.md §4.7's auth requirement
// and the teacher's internal/daemon/spawn.go generateNonce/readOrCreateNonce
// pattern (there, a 128-bit nonce written with 0600 permissions; here, the
// 256-bit token spec.md calls for).
func loadOrCreateToken(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating auth token: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return "", fmt.Errorf("writing auth token: %w", err)
	}
	return token, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32) // 256 bits
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// checkBearer reports whether the Authorization header carries exactly
// "Bearer <token>".
func checkBearer(header, token string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return header[len(prefix):] == token
}
