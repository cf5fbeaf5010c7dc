package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Classifier maps request paths to endpoint classes.
type Classifier struct {
	AuthPrefix string
	APIPrefix  string
}

func DefaultClassifier() Classifier {
	return Classifier{
		AuthPrefix: "/api/v1/auth",
		APIPrefix:  "/api/",
	}
}

func (c Classifier) Classify(path string) Class {
	switch {
	case hasPathPrefix(path, c.AuthPrefix):
		return ClassAuth
	case hasPathPrefix(path, c.APIPrefix):
		return ClassAPI
	default:
		return ClassNone
	}
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return false
	}
	return strings.HasSuffix(prefix, "/") || len(path) == len(prefix) || path[len(prefix)] == '/'
}

// KeyFor derives the bucket key for a request of the given class. API
// requests carrying credentials are keyed by a fingerprint of the
// Authorization header so callers behind one NAT address are not lumped
// together; everything else is keyed by client address.
func KeyFor(class Class, r *http.Request) string {
	if class == ClassAPI {
		if auth := r.Header.Get("Authorization"); auth != "" {
			return "cred:" + CredentialFingerprint(auth)
		}
	}
	return "ip:" + GetClientIP(r)
}

// CredentialFingerprint is a stable, non-reversible digest of a credential.
func CredentialFingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:16])
}

// GetClientIP returns the first X-Forwarded-For hop when present, otherwise
// the peer address. The header is client-controlled unless a trusted proxy
// overwrites it.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
