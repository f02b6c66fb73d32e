package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/packrat-backup/packrat/openssl"
)

// NewEncrypted wraps s so file and TOC payloads are encrypted at rest with
// the given cipher. Writes encrypt before the backend sees the bytes, reads
// decrypt after; everything else passes through, so the wrapped backend
// stays oblivious to the encryption policy.
//
// The accessor bound to the live vault is never wrapped: transparent
// encryption belongs only on stores holding backup output.
func NewEncrypted(s Store, c openssl.Cipher) Store {
	return encstore{Store: s, c: c}
}

type encstore struct {
	Store
	c openssl.Cipher
}

func (es encstore) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	b, err := es.Store.ReadBinary(ctx, p)
	if err != nil {
		return nil, err
	}
	plain, err := es.c.Decrypt(b)
	if err != nil {
		// surfaces like any other read failure
		return nil, errors.Wrapf(err, "read %s", p)
	}
	return plain, nil
}

func (es encstore) WriteBinary(ctx context.Context, p string, data []byte) error {
	sealed, err := es.c.Encrypt(data)
	if err != nil {
		return errors.Wrapf(err, "write %s", p)
	}
	return es.Store.WriteBinary(ctx, p, sealed)
}

func (es encstore) ReadTOC(ctx context.Context, p string) ([]byte, error) {
	b, err := es.Store.ReadTOC(ctx, p)
	if err != nil {
		return nil, err
	}
	plain, err := es.c.Decrypt(b)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p)
	}
	return plain, nil
}

func (es encstore) WriteTOC(ctx context.Context, p string, data []byte) error {
	sealed, err := es.c.Encrypt(data)
	if err != nil {
		return errors.Wrapf(err, "write %s", p)
	}
	return es.Store.WriteTOC(ctx, p, sealed)
}
