// Package crypto resolves the treasury signing key used by on-chain
// settlement. Keys are stored either as a raw hex string or as a
// password-encrypted file sealed with PBKDF2-HMAC-SHA256 and AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// sealedKeyJSON is the on-disk format for an encrypted treasury key.
type sealedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource carries the places LoadTreasuryKey looks for a key, populated
// from configuration.
type KeySource struct {
	// RawHex is a hex-encoded secp256k1 private key, with or without the
	// 0x prefix. Takes precedence when non-empty.
	RawHex string

	// SealedPath is the path to a file produced by SealKey.
	SealedPath string

	// Password decrypts the file at SealedPath.
	Password string
}

// SealKey encrypts a hex-encoded private key under a password and returns
// the JSON blob to write to disk.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := sealedKeyJSON{
		Version:    keyFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// UnsealKey decrypts a blob produced by SealKey and returns the hex-encoded
// private key without the 0x prefix.
func UnsealKey(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var stored sealedKeyJSON
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if stored.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := gcmFor(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadTreasuryKey resolves the settlement signing key. RawHex wins when set;
// otherwise the sealed file is read and decrypted.
func LoadTreasuryKey(src KeySource) (*ecdsa.PrivateKey, error) {
	var keyHex string
	switch {
	case src.RawHex != "":
		keyHex = strings.TrimPrefix(src.RawHex, "0x")
	case src.SealedPath != "":
		data, err := os.ReadFile(src.SealedPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading sealed key file: %w", err)
		}
		keyHex, err = UnsealKey(data, src.Password)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("crypto: no treasury key configured")
	}

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing treasury key: %w", err)
	}
	return key, nil
}

func gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
