package cipher

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Mode selects the on-disk envelope used for new databases.
type Mode string

const (
	// ModeLegacy writes bare CBC ciphertext with the fixed IV and the raw
	// passphrase as key.
	ModeLegacy Mode = "legacy"

	// ModeArgon2 writes a clear preamble carrying a random salt and IV; the
	// key is derived with Argon2id.
	ModeArgon2 Mode = "argon2"
)

// Argon2id parameters, the OWASP-recommended set.
const (
	Argon2Memory  = 64 * 1024
	Argon2Time    = 3
	Argon2Threads = 4

	SaltSize = 16
)

// kdfMagic opens every Argon2-mode file. Legacy files have no preamble.
var kdfMagic = []byte("OPMKDF01")

// ParseMode validates a mode name. The empty string means ModeLegacy.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLegacy:
		return ModeLegacy, nil
	case ModeArgon2:
		return ModeArgon2, nil
	}
	return "", fmt.Errorf("cipher: unknown mode %q", s)
}

// Sealer encrypts and decrypts whole database images for one passphrase.
// Open adopts the envelope of the file it reads, so a database keeps its
// format across rewrites regardless of the mode the Sealer was created with.
type Sealer struct {
	passphrase []byte
	mode       Mode
	salt       []byte
	key        *Key // derived key for salt, cached because derivation is slow
}

// NewSealer returns a Sealer that writes new files in mode.
// The passphrase is copied; call Close to wipe it.
func NewSealer(passphrase []byte, mode Mode) *Sealer {
	return &Sealer{
		passphrase: bytes.Clone(passphrase),
		mode:       mode,
	}
}

// Mode reports the envelope Seal will write.
func (s *Sealer) Mode() Mode {
	return s.mode
}

// Open decrypts a database image read from r.
func (s *Sealer) Open(r io.Reader) ([]byte, error) {
	br := bufio.NewReaderSize(r, ChunkSize)
	head, err := br.Peek(len(kdfMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("cipher: reading preamble: %w", err)
	}
	if len(head) == 0 {
		return []byte{}, nil
	}

	if !bytes.Equal(head, kdfMagic) {
		s.mode = ModeLegacy
		return Decode(br, LegacyKey(s.passphrase), legacyIV)
	}

	preamble := make([]byte, len(kdfMagic)+SaltSize+aes.BlockSize)
	if _, err := io.ReadFull(br, preamble); err != nil {
		return nil, ErrDecrypt
	}
	salt := preamble[len(kdfMagic) : len(kdfMagic)+SaltSize]
	iv := preamble[len(kdfMagic)+SaltSize:]

	s.mode = ModeArgon2
	s.setSalt(salt)
	return Decode(br, *s.key, iv)
}

// Seal encrypts plaintext and writes the image to w.
func (s *Sealer) Seal(w io.Writer, plaintext []byte) error {
	if s.mode != ModeArgon2 {
		return Encode(w, plaintext, LegacyKey(s.passphrase), legacyIV)
	}

	if s.key == nil {
		salt := make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("cipher: generating salt: %w", err)
		}
		s.setSalt(salt)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("cipher: generating iv: %w", err)
	}

	preamble := make([]byte, 0, len(kdfMagic)+SaltSize+aes.BlockSize)
	preamble = append(preamble, kdfMagic...)
	preamble = append(preamble, s.salt...)
	preamble = append(preamble, iv...)
	if _, err := w.Write(preamble); err != nil {
		return fmt.Errorf("cipher: writing preamble: %w", err)
	}
	return Encode(w, plaintext, *s.key, iv)
}

func (s *Sealer) setSalt(salt []byte) {
	if s.key != nil && bytes.Equal(s.salt, salt) {
		return
	}
	s.salt = bytes.Clone(salt)
	k := DeriveKey(s.passphrase, s.salt)
	if s.key != nil {
		Wipe(s.key[:])
	}
	s.key = &k
}

// Close wipes the passphrase and any derived key.
func (s *Sealer) Close() {
	Wipe(s.passphrase)
	if s.key != nil {
		Wipe(s.key[:])
		s.key = nil
	}
}

// DeriveKey stretches a passphrase into an AES-256 key with Argon2id.
func DeriveKey(passphrase, salt []byte) Key {
	var k Key
	derived := argon2.IDKey(passphrase, salt, Argon2Time, Argon2Memory, Argon2Threads, KeySize)
	copy(k[:], derived)
	Wipe(derived)
	return k
}
