// Package secrets implements a passphrase-sealed credential vault for
// acquisition strategy credentials (GitHub tokens, AWS keys, Hugging
// Face tokens) named in the "Environment variables" contract: rather
// than holding these only in process env, the vault keeps them sealed
// at rest and decrypts a value only at the moment a strategy needs it.
//
// Key derivation and sealing mirror the teacher's crypto package:
// Argon2id stretches the vault passphrase into key material
// (pkg/core/crypto/encryption.go's GenerateKey/DeriveKey parameters),
// and each secret is sealed with NaCl box — authenticated
// public-key encryption sealed to a keypair derived deterministically
// from the same Argon2id output, so opening the vault again with the
// same passphrase and salt reproduces the keypair and decrypts cleanly.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
)

const (
	saltSize = 32
	// Argon2id parameters match encryption.go's GenerateKey/DeriveKey:
	// time=1, memory=64MB, parallelism=4, 32-byte output.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// sealedEntry is one credential's on-disk representation: a NaCl box
// nonce plus the box-sealed ciphertext, both base64 so the whole vault
// round-trips through JSON.
type sealedEntry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// file is the on-disk vault format written by Save and read by Open.
type file struct {
	Salt    string                 `json:"salt"`
	Entries map[string]sealedEntry `json:"entries"`
}

// Vault holds a set of named credentials sealed under one
// passphrase-derived keypair. The zero value is not usable; build one
// with New or Open.
type Vault struct {
	salt    []byte
	pub     [32]byte
	priv    [32]byte
	entries map[string]sealedEntry
}

// deriveKeypair stretches passphrase+salt through Argon2id to 32 bytes
// of key material, then treats that as a Curve25519 private scalar,
// deriving the matching public key the same way box.GenerateKey does
// internally. A vault opened with the same passphrase and salt always
// reproduces the identical keypair.
func deriveKeypair(passphrase string, salt []byte) (pub, priv [32]byte) {
	stretched := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	copy(priv[:], stretched)
	curve25519ScalarBaseMult(&pub, &priv)
	return pub, priv
}

// New creates an empty vault sealed under passphrase with a freshly
// generated random salt.
func New(passphrase string) (*Vault, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("secrets: generate salt: %w", err)
	}
	pub, priv := deriveKeypair(passphrase, salt)
	return &Vault{salt: salt, pub: pub, priv: priv, entries: make(map[string]sealedEntry)}, nil
}

// Open loads a vault previously written by Save, deriving its keypair
// from passphrase and the salt stored in the file. Open does not by
// itself verify the passphrase; an incorrect passphrase surfaces as a
// decryption failure the first time Get is called.
func Open(path, passphrase string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read vault: %w", err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("secrets: parse vault: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode salt: %w", err)
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("secrets: salt must be %d bytes, got %d", saltSize, len(salt))
	}
	pub, priv := deriveKeypair(passphrase, salt)
	entries := f.Entries
	if entries == nil {
		entries = make(map[string]sealedEntry)
	}
	return &Vault{salt: salt, pub: pub, priv: priv, entries: entries}, nil
}

// Put seals value under name, overwriting any existing entry of the
// same name. The cleartext value is never written to disk; only Save's
// sealed output is.
func (v *Vault) Put(name, value string) error {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := box.Seal(nil, []byte(value), &nonce, &v.pub, &v.priv)
	v.entries[name] = sealedEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}
	return nil
}

// Get unseals and returns the credential stored under name.
// ok is false if no entry exists under that name.
func (v *Vault) Get(name string) (value string, ok bool, err error) {
	entry, present := v.entries[name]
	if !present {
		return "", false, nil
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return "", true, fmt.Errorf("secrets: %s: malformed nonce", name)
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)

	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return "", true, fmt.Errorf("secrets: %s: malformed ciphertext", name)
	}

	plaintext, authOK := box.Open(nil, ciphertext, &nonce, &v.pub, &v.priv)
	if !authOK {
		return "", true, fmt.Errorf("secrets: %s: authentication failed (wrong passphrase or tampered vault)", name)
	}
	return string(plaintext), true, nil
}

// Names lists every credential name currently sealed in the vault.
func (v *Vault) Names() []string {
	names := make([]string, 0, len(v.entries))
	for name := range v.entries {
		names = append(names, name)
	}
	return names
}

// Save writes the vault to path atomically via kernel.WriteAtomic,
// matching every other artifact the pipeline produces (§"Shared
// kernel").
func (v *Vault) Save(path string) error {
	f := file{
		Salt:    base64.StdEncoding.EncodeToString(v.salt),
		Entries: v.entries,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("secrets: marshal vault: %w", err)
	}
	return kernel.WriteAtomic(path, data)
}

// SecureZero overwrites a credential's byte representation with zeros
// after use, mirroring the teacher's SecureZero convention for clearing
// sensitive data out of memory as soon as a strategy is done with it.
func SecureZero(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
