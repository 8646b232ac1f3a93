// Package cipher implements the streaming AES-256-CBC codec that protects
// the credential database at rest.
//
// Input is processed in fixed-size chunks so the plaintext never has to be
// duplicated into one contiguous ciphertext buffer. Output is PKCS#7 padded
// and byte-compatible with databases written by earlier opm releases.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"runtime"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// ChunkSize is the number of bytes encrypted or decrypted per step.
	ChunkSize = 4096
)

// legacyIV is shared by every legacy-format database. It is weak (the same
// key always yields the same ciphertext prefix) and is kept only so older
// files stay readable. KDF-format files draw a random IV per write.
var legacyIV = []byte("A1B2C3D4E5X6Y7Z8")

// ErrDecrypt is returned when ciphertext cannot be decrypted. CBC has no
// authentication, so a wrong key and a damaged file look the same here.
var ErrDecrypt = errors.New("cipher: cannot decrypt")

// ErrIVLength is returned when an IV is not one AES block long.
var ErrIVLength = errors.New("cipher: iv must be 16 bytes")

// Key is an AES-256 key.
type Key [KeySize]byte

// LegacyKey builds a key from the raw passphrase bytes, zero padded or
// truncated to KeySize. No derivation is applied.
func LegacyKey(passphrase []byte) Key {
	var k Key
	copy(k[:], passphrase)
	return k
}

// Encode encrypts plaintext with key and iv and writes the ciphertext to w.
func Encode(w io.Writer, plaintext []byte, key Key, iv []byte) error {
	if len(iv) != aes.BlockSize {
		return ErrIVLength
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("cipher: creating block cipher: %w", err)
	}
	mode := cipher.NewCBCEncrypter(block, iv)

	buf := make([]byte, ChunkSize+aes.BlockSize)
	defer Wipe(buf)

	for len(plaintext) >= ChunkSize {
		mode.CryptBlocks(buf[:ChunkSize], plaintext[:ChunkSize])
		if _, err := w.Write(buf[:ChunkSize]); err != nil {
			return fmt.Errorf("cipher: writing ciphertext: %w", err)
		}
		plaintext = plaintext[ChunkSize:]
	}

	// Final chunk always carries the padding, a full block of it when the
	// input is block aligned.
	n := copy(buf, plaintext)
	pad := aes.BlockSize - n%aes.BlockSize
	for i := n; i < n+pad; i++ {
		buf[i] = byte(pad)
	}
	mode.CryptBlocks(buf[:n+pad], buf[:n+pad])
	if _, err := w.Write(buf[:n+pad]); err != nil {
		return fmt.Errorf("cipher: writing ciphertext: %w", err)
	}
	return nil
}

// Decode reads ciphertext from r until EOF and returns the plaintext.
// An empty stream decodes to an empty plaintext. Intermediate buffers are
// wiped as the output grows, so only the returned slice holds plaintext.
func Decode(r io.Reader, key Key, iv []byte) ([]byte, error) {
	if len(iv) != aes.BlockSize {
		return nil, ErrIVLength
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher: creating block cipher: %w", err)
	}
	mode := cipher.NewCBCDecrypter(block, iv)

	var out []byte
	chunk := make([]byte, ChunkSize)
	defer Wipe(chunk)

	for {
		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			if n%aes.BlockSize != 0 {
				Wipe(out)
				return nil, ErrDecrypt
			}
			mode.CryptBlocks(chunk[:n], chunk[:n])
			out = appendWiping(out, chunk[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			Wipe(out)
			return nil, fmt.Errorf("cipher: reading ciphertext: %w", err)
		}
	}

	if len(out) == 0 {
		return []byte{}, nil
	}

	plain, err := unpad(out)
	if err != nil {
		Wipe(out)
		return nil, err
	}
	return plain, nil
}

// appendWiping appends src to dst. When dst must grow, the old backing
// array is zeroed once its contents have been copied.
func appendWiping(dst, src []byte) []byte {
	if len(dst)+len(src) <= cap(dst) {
		return append(dst, src...)
	}
	grown := make([]byte, len(dst), 2*cap(dst)+len(src))
	copy(grown, dst)
	Wipe(dst[:cap(dst)])
	return append(grown, src...)
}

func unpad(b []byte) ([]byte, error) {
	pad := int(b[len(b)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(b) {
		return nil, ErrDecrypt
	}
	for _, c := range b[len(b)-pad:] {
		if int(c) != pad {
			return nil, ErrDecrypt
		}
	}
	return b[:len(b)-pad], nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
