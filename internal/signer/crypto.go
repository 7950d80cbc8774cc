package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
	"golang.org/x/crypto/scrypt"
)

// encryptFor implements spec.md §4.2's encrypt(kind4|kind44) capability:
// nip44=false selects the legacy NIP-04 shared-secret scheme, nip44=true
// selects the versioned NIP-44 scheme. Both are provided by go-nostr, the
// teacher's dependency for every other wire-level NIP already in use.
func encryptFor(skHex, peerPubHex, plaintext string, nip44On bool) (string, error) {
	if nip44On {
		key, err := nip44.GenerateConversationKey(peerPubHex, skHex)
		if err != nil {
			return "", err
		}
		return nip44.Encrypt(plaintext, key)
	}
	shared, err := nip04.ComputeSharedSecret(peerPubHex, skHex)
	if err != nil {
		return "", err
	}
	return nip04.Encrypt(plaintext, shared)
}

func decryptFrom(skHex, peerPubHex, ciphertext string) (string, error) {
	// NIP-44 ciphertexts are base64 without the NIP-04 "?iv=" suffix;
	// NIP-04 ciphertexts always contain "?iv=". Dispatch on that instead
	// of requiring the caller to know which scheme produced it.
	if looksLikeNip04(ciphertext) {
		shared, err := nip04.ComputeSharedSecret(peerPubHex, skHex)
		if err != nil {
			return "", err
		}
		return nip04.Decrypt(ciphertext, shared)
	}
	key, err := nip44.GenerateConversationKey(peerPubHex, skHex)
	if err != nil {
		return "", err
	}
	return nip44.Decrypt(ciphertext, key)
}

func looksLikeNip04(s string) bool {
	for i := 0; i+4 <= len(s); i++ {
		if s[i:i+4] == "?iv=" {
			return true
		}
	}
	return false
}

// --- local-secret-at-rest passphrase wrapping ---
//
// There is no ecosystem "encrypted local nostr key file" library in the
// pack, so the local secret-at-rest format is hand-rolled here: scrypt
// (already an indirect dependency via golang.org/x/crypto, which the
// teacher pulls in transitively through go-nostr) for key derivation,
// stdlib AES-GCM for the AEAD. See DESIGN.md.

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

func encryptSecret(secretHex, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(secretHex), nil)
	out := make([]byte, 0, saltLen+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func decryptSecret(blob []byte, passphrase string) (string, error) {
	if len(blob) < saltLen+12 {
		return "", fmt.Errorf("truncated ciphertext")
	}
	salt := blob[:saltLen]
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceLen := gcm.NonceSize()
	rest := blob[saltLen:]
	if len(rest) < nonceLen {
		return "", fmt.Errorf("truncated ciphertext")
	}
	nonce, ciphertext := rest[:nonceLen], rest[nonceLen:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

var _ = sha256.Sum256 // reserved for future fingerprinting of encrypted blobs
