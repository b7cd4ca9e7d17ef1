package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const seedKeySize = 32

var ErrInvalidCiphertext = errors.New("invalid encrypted seed")

// SeedCipher encrypts wallet seeds at rest with AES-256-CBC and a fresh IV per value.
type SeedCipher struct {
	key []byte
}

type encryptedSeed struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// NewSeedCipher expects the base64 encoding of a 32 byte key.
func NewSeedCipher(base64Key string) (*SeedCipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != seedKeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", seedKeySize, len(key))
	}
	return &SeedCipher{key: key}, nil
}

// Encrypt returns base64(json{"iv","data"}).
func (sc *SeedCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(sc.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	envelope, err := json.Marshal(encryptedSeed{
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(out),
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

func (sc *SeedCipher) Decrypt(encoded string) (string, error) {
	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	var seed encryptedSeed
	if err := json.Unmarshal(envelope, &seed); err != nil {
		return "", ErrInvalidCiphertext
	}
	iv, err := base64.StdEncoding.DecodeString(seed.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(seed.Data)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}
	block, err := aes.NewCipher(sc.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidCiphertext
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidCiphertext
		}
	}
	return b[:len(b)-n], nil
}
