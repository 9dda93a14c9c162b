package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyIterations = 100000
	keyLength     = 32
)

// SecurityManager encrypts credentials before they are written to disk
type SecurityManager interface {
	EncryptCredential(plaintext string) (string, error)
	DecryptCredential(ciphertext string) (string, error)
}

// AESSecurityManager implements SecurityManager with AES-256-GCM. The key is
// derived with pbkdf2 from a stored random salt and a machine-specific passphrase.
type AESSecurityManager struct {
	keyPath   string
	masterKey []byte
}

// NewSecurityManager loads or creates the salt at keyPath. An empty keyPath uses
// the XDG data directory.
func NewSecurityManager(keyPath string) (*AESSecurityManager, error) {
	if keyPath == "" {
		defaultPath, err := defaultKeyPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine security key path: %w", err)
		}
		keyPath = defaultPath
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create security directory: %w", err)
	}

	s := &AESSecurityManager{keyPath: keyPath}
	salt, err := s.loadOrCreateSalt()
	if err != nil {
		return nil, err
	}
	s.masterKey = pbkdf2.Key([]byte(machinePassphrase()), salt, keyIterations, keyLength, sha256.New)
	return s, nil
}

// DataDir returns the console's XDG data directory, where the key and logs live
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "console"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "console"), nil
}

func defaultKeyPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "security", "master.key"), nil
}

func (s *AESSecurityManager) loadOrCreateSalt() ([]byte, error) {
	data, err := os.ReadFile(s.keyPath)
	if err == nil {
		salt, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode key material: %w", err)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key file: %w", err)
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate random salt: %w", err)
	}
	if err := os.WriteFile(s.keyPath, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key material: %w", err)
	}
	return salt, nil
}

func machinePassphrase() string {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	return fmt.Sprintf("console-security-%s-%s", hostname, username)
}

func (s *AESSecurityManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptCredential returns base64(nonce || ciphertext)
func (s *AESSecurityManager) EncryptCredential(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptCredential reverses EncryptCredential
func (s *AESSecurityManager) DecryptCredential(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
