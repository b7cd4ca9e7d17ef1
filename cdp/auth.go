package cdp

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const tokenLifetime = 2 * time.Minute

type keySigner struct {
	keyName string
	key     *ecdsa.PrivateKey
}

func newKeySigner(keyName, pemKey string) (*keySigner, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parsing CDP api private key: %w", err)
	}
	return &keySigner{keyName: keyName, key: key}, nil
}

// bearer builds a short lived ES256 token bound to one request line.
func (s *keySigner) bearer(method, host, path string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": "cdp",
		"sub": s.keyName,
		"nbf": now.Unix(),
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
		"uri": fmt.Sprintf("%s %s%s", method, host, path),
	})
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	token.Header["kid"] = s.keyName
	token.Header["nonce"] = hex.EncodeToString(nonce)
	return token.SignedString(s.key)
}
