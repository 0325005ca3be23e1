package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ErlanBelekov/farm-market/internal/domain"
)

// Cipher encrypts signed tokens with AES-CBC and PKCS#7 padding under a fixed
// key and IV. The fixed IV makes equal tokens encrypt to equal ciphertexts;
// every token carries a fresh jti so that does not happen in practice.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// NewCipher takes the base64 key (16, 24 or 32 bytes decoded) and IV
// (16 bytes decoded).
func NewCipher(keyB64, ivB64 string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("decode encryption iv: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("encryption iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	return &Cipher{block: block, iv: iv}, nil
}

// GenerateKeyMaterial returns a random 256-bit key and 128-bit IV, base64
// encoded, in the form NewCipher accepts.
func GenerateKeyMaterial() (keyB64, ivB64 string, err error) {
	key := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(key); err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(iv), nil
}

func (c *Cipher) Encrypt(plain string) string {
	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt returns domain.ErrDecryption for malformed base64, a wrong key or
// bad padding.
func (c *Cipher) Decrypt(ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertextB64))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", domain.ErrDecryption)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: invalid length", domain.ErrDecryption)
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, raw)

	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok {
		return "", fmt.Errorf("%w: invalid padding", domain.ErrDecryption)
	}
	return string(plain), nil
}

// Unwrap decrypts an encrypted bearer value and checks that the result is
// shaped like a JWT. It returns domain.ErrDecryption or domain.ErrIntegrity.
func (c *Cipher) Unwrap(encrypted string) (string, error) {
	signed, err := c.Decrypt(encrypted)
	if err != nil {
		return "", err
	}
	if !ValidateIntegrity(signed) {
		return "", fmt.Errorf("%w: not a three-segment token", domain.ErrIntegrity)
	}
	return signed, nil
}

// ValidateIntegrity is a structural check: exactly three dot-separated
// segments, each decodable as base64 once padded. Signatures are not checked.
func ValidateIntegrity(tok string) bool {
	if strings.TrimSpace(tok) == "" {
		return false
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if !decodable(p) {
			return false
		}
	}
	return true
}

func decodable(segment string) bool {
	switch len(segment) % 4 {
	case 1:
		return false
	case 2:
		segment += "=="
	case 3:
		segment += "="
	}
	if _, err := base64.URLEncoding.DecodeString(segment); err == nil {
		return true
	}
	_, err := base64.StdEncoding.DecodeString(segment)
	return err == nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, false
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
