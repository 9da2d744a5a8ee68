package tagcache

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"github.com/goforj/tagcache/cachecore"
)

var (
	encryptionMagic = []byte("ENC1")

	ErrEncryptionKey = errors.New("cache: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed = errors.New("cache: decrypt failed")
)

type encryptedCodec struct {
	inner cachecore.Codec
	aead  cipher.AEAD
}

// EncryptedCodec wraps inner with AES-GCM. The key must be 16, 24, or 32 bytes.
// Unframed payloads pass through so existing plaintext entries stay readable
// while encryption is rolled out.
// @group Codecs
//
// Example: encrypted sql payloads
//
//	codec, err := tagcache.EncryptedCodec(nil, []byte("0123456789abcdef0123456789abcdef"))
//	if err != nil {
//		return
//	}
//	store, _ := sqlcache.New(context.Background(), sqlcache.Config{
//		DriverName: "sqlite",
//		DSN:        "file::memory:?cache=shared",
//		Codec:      codec,
//	})
//	_ = store
func EncryptedCodec(inner cachecore.Codec, key []byte) (cachecore.Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &encryptedCodec{inner: cachecore.CodecOrDefault(inner), aead: aead}, nil
}

func (c *encryptedCodec) Marshal(value any) ([]byte, error) {
	plain, err := c.inner.Marshal(value)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := c.aead.Seal(nil, nonce, plain, nil)
	buf := make([]byte, 0, len(encryptionMagic)+1+len(nonce)+len(ct))
	buf = append(buf, encryptionMagic...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return buf, nil
}

func (c *encryptedCodec) Unmarshal(data []byte) (any, error) {
	plain, err := c.decrypt(data)
	if err != nil {
		return nil, err
	}
	return c.inner.Unmarshal(plain)
}

func (c *encryptedCodec) decrypt(in []byte) ([]byte, error) {
	if len(in) < len(encryptionMagic)+1 || !bytes.Equal(in[:len(encryptionMagic)], encryptionMagic) {
		return in, nil
	}
	nonceLen := int(in[len(encryptionMagic)])
	offset := len(encryptionMagic) + 1
	if len(in) < offset+nonceLen {
		return nil, ErrDecryptFailed
	}
	plain, err := c.aead.Open(nil, in[offset:offset+nonceLen], in[offset+nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
