package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner issues and verifies expiring links to stored media.
type SignedURLSigner struct {
	baseURL string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewSignedURLSigner constructs a signer. baseURL is where the media route is mounted.
func NewSignedURLSigner(baseURL, secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
	}
}

// ResolveImageURL turns a stored image reference into a displayable URL.
// Absolute http(s) references are returned untouched.
func (s *SignedURLSigner) ResolveImageURL(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty image reference")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret missing")
	}
	path, err := cleanPath(ref)
	if err != nil {
		return "", err
	}

	expires := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	query := url.Values{}
	query.Set("expires", expires)
	query.Set("sig", s.sign(path, expires))
	return fmt.Sprintf("%s/%s?%s", s.baseURL, path, query.Encode()), nil
}

// Verify checks a signature produced by ResolveImageURL and returns the clean path.
func (s *SignedURLSigner) Verify(ref, expires, signature string) (string, error) {
	path, err := cleanPath(ref)
	if err != nil {
		return "", err
	}
	expUnix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid expiry")
	}
	expected := s.sign(path, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", fmt.Errorf("invalid signature")
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", fmt.Errorf("link expired")
	}
	return path, nil
}

func (s *SignedURLSigner) sign(path, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(path + "|" + expires))
	return hex.EncodeToString(mac.Sum(nil))
}

func cleanPath(ref string) (string, error) {
	path := strings.TrimLeft(ref, "/")
	if path == "" {
		return "", fmt.Errorf("empty image reference")
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid image reference")
		}
	}
	return path, nil
}
