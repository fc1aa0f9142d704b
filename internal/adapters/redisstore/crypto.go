package redisstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/go-faster/errors"
)

// Cipher шифрует сессии AES-GCM. Ключ берётся только из окружения процесса
// (SESSION_CRYPTO_KEY) и никогда не передаётся аргументами команд.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher принимает 32-байтовый ключ: либо сырой, либо в base64
// (std или url-safe, с паддингом или без).
func NewCipher(key string) (*Cipher, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, errors.Wrap(err, "init aes")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}
	return &Cipher{aead: aead}, nil
}

func decodeKey(key string) ([]byte, error) {
	if len(key) == 32 {
		return []byte(key), nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(key); err == nil && len(raw) == 32 {
			return raw, nil
		}
	}
	return nil, errors.New("session key must be 32 bytes, raw or base64")
}

// Seal шифрует данные и возвращает base64(nonce || ciphertext).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает значение из Seal. ok=false означает, что значение не
// похоже на шифротекст этого ключа; вызывающий код трактует его как
// незашифрованное наследие.
func (c *Cipher) Open(value string) ([]byte, bool) {
	sealed, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, false
	}
	plaintext, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
