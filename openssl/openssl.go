// Package openssl implements password-based encryption of opaque buffers in
// the salted container format used by the openssl enc command line tool.
//
// A payload is the 8 byte marker "Salted__", an 8 byte random salt, and then
// the AES-256-CBC ciphertext of the PKCS#7 padded plaintext. The key and IV
// are derived from the passphrase and salt either with the tool's historic
// EVP_BytesToKey MD5 schedule (the default) or with PBKDF2-SHA256, matching
// "openssl enc -aes-256-cbc [-pbkdf2]". Either form is decryptable by the
// external tool given the passphrase.
package openssl

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	magic    = "Salted__"
	saltLen  = 8
	keyLen   = 32
	ivLen    = aes.BlockSize
	overhead = len(magic) + saltLen

	// Iteration count openssl enc uses for -pbkdf2 when none is given.
	pbkdf2Iterations = 10000
)

// ErrDecrypt means a payload could not be decrypted. A wrong passphrase and
// a corrupt payload are indistinguishable, so both report this.
var ErrDecrypt = errors.New("cannot decrypt: wrong passphrase or corrupt data")

// A KDF selects how the key and IV are derived from passphrase and salt.
type KDF int

const (
	// KDFMD5 is the EVP_BytesToKey schedule with MD5 and one round, the
	// historic default of the command line tool.
	KDFMD5 KDF = iota
	// KDFPBKDF2 is PBKDF2-HMAC-SHA256 with 10000 iterations, the tool's
	// -pbkdf2 mode.
	KDFPBKDF2
)

// A Cipher encrypts and decrypts buffers under one passphrase. The zero
// value is not usable; construct one with New or NewPBKDF2.
type Cipher struct {
	passphrase []byte
	kdf        KDF
}

// New returns a Cipher using the default EVP_BytesToKey MD5 derivation.
func New(passphrase string) Cipher {
	return Cipher{passphrase: []byte(passphrase), kdf: KDFMD5}
}

// NewPBKDF2 returns a Cipher using PBKDF2-SHA256 derivation.
func NewPBKDF2(passphrase string) Cipher {
	return Cipher{passphrase: []byte(passphrase), kdf: KDFPBKDF2}
}

// Encrypt seals plaintext into a salted payload. A fresh random salt is
// drawn for every call, so encrypting the same data twice yields different
// payloads.
func (c Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return c.encryptWithSalt(plaintext, salt)
}

// encryptWithSalt is split out so tests can use a fixed salt.
func (c Cipher) encryptWithSalt(plaintext, salt []byte) ([]byte, error) {
	key, iv := c.derive(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext)
	out := make([]byte, overhead+len(padded))
	copy(out, magic)
	copy(out[len(magic):], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[overhead:], padded)
	return out, nil
}

// Decrypt opens a salted payload. Any inconsistency, including a missing
// marker, a short body, or bad padding, reports ErrDecrypt.
func (c Cipher) Decrypt(payload []byte) ([]byte, error) {
	if len(payload) < overhead+aes.BlockSize ||
		string(payload[:len(magic)]) != magic {
		return nil, ErrDecrypt
	}
	salt := payload[len(magic):overhead]
	body := payload[overhead:]
	if len(body)%aes.BlockSize != 0 {
		return nil, ErrDecrypt
	}
	key, iv := c.derive(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	return unpad(plain)
}

// derive produces the 32 byte key and 16 byte IV for salt.
func (c Cipher) derive(salt []byte) (key, iv []byte) {
	var km []byte
	switch c.kdf {
	case KDFPBKDF2:
		km = pbkdf2.Key(c.passphrase, salt, pbkdf2Iterations, keyLen+ivLen, sha256.New)
	default:
		// EVP_BytesToKey: D_1 = MD5(pass||salt), D_n = MD5(D_{n-1}||pass||salt),
		// concatenated until enough material exists.
		var prev []byte
		for len(km) < keyLen+ivLen {
			h := md5.New()
			h.Write(prev)
			h.Write(c.passphrase)
			h.Write(salt)
			prev = h.Sum(nil)
			km = append(km, prev...)
		}
	}
	return km[:keyLen], km[keyLen : keyLen+ivLen]
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrDecrypt
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrDecrypt
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, ErrDecrypt
	}
	return b[:len(b)-n], nil
}
