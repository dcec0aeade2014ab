// Package keymgr owns all private and public key material: generation,
// persistence with owner-only permissions, rotation, and the
// cryptographic primitives built on it. Key files never leave the
// manager's directory and are archived, not deleted, on rotation.
package keymgr

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/taxpoynt/certmgr/internal/common"
	"github.com/taxpoynt/certmgr/internal/policy"
	"golang.org/x/crypto/pbkdf2"
)

// PEM block type constants.
const (
	pkcs8PrivateKeyPEMType = "PRIVATE KEY"
	pkcs1PrivateKeyPEMType = "RSA PRIVATE KEY"
	pkixPublicKeyPEMType   = "PUBLIC KEY"
)

const (
	keyFileExt     = ".pem"
	archiveDirName = "archive"
	saltSize       = 16
)

// Sentinel errors for key operations.
var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrKeyGeneration     = errors.New("key generation failed")
)

// KeyFileInfo describes a key file on disk.
type KeyFileInfo struct {
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	IsEncrypted bool      `json:"is_encrypted"`
}

// KeyStrengthReport is the result of analyzing a private key against
// the key policy.
type KeyStrengthReport struct {
	KeySize          int      `json:"key_size"`
	PublicExponent   int      `json:"public_exponent"`
	IsStrong         bool     `json:"is_strong"`
	IsSecureExponent bool     `json:"is_secure_exponent"`
	SecurityLevel    string   `json:"security_level"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

// Manager generates, stores and loads RSA key material. All files it
// writes are created with mode 0600 from the first byte; there is no
// window in which another user could read key material.
type Manager struct {
	keyDir string
	logger common.Logger
}

// New creates a key manager rooted at keyDir, creating the directory
// (mode 0700) if necessary.
func New(keyDir string, logger common.Logger) (*Manager, error) {
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	return &Manager{
		keyDir: keyDir,
		logger: logger.With("component", "keymgr"),
	}, nil
}

// GenerateRSAKeyPair generates a new RSA key pair and returns the
// PKCS#8 private key and PKIX public key, both PEM-encoded. Key sizes
// below the policy minimum are rejected.
func (m *Manager) GenerateRSAKeyPair(keySize int) (privatePEM, publicPEM []byte, err error) {
	if keySize == 0 {
		keySize = policy.MinRSAKeySize
	}
	if err := policy.ValidateKeySize(keySize); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return encodeKeyPair(key)
}

// GenerateEncryptedKeyPair generates a new RSA key pair whose private
// key PEM is encrypted at rest with the given passphrase (AES-256).
func (m *Manager) GenerateEncryptedKeyPair(passphrase []byte, keySize int) (privatePEM, publicPEM []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, fmt.Errorf("%w: empty passphrase", ErrKeyGeneration)
	}

	privatePEM, publicPEM, err = m.GenerateRSAKeyPair(keySize)
	if err != nil {
		return nil, nil, err
	}

	block, _ := pem.Decode(privatePEM)
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, passphrase, x509.PEMCipherAES256) //nolint:staticcheck
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	return pem.EncodeToMemory(encBlock), publicPEM, nil
}

// StoreKey writes key material to the key directory with owner-only
// permissions. The filename encodes name, type and a timestamp so that
// repeated stores for the same name never collide.
func (m *Manager) StoreKey(keyData []byte, keyName, keyType string) (string, error) {
	if len(keyData) == 0 {
		return "", errors.New("no key data to store")
	}

	stem := fmt.Sprintf("%s_%s_%s",
		sanitizeName(keyName), keyType, time.Now().UTC().Format("20060102T150405"))

	// O_EXCL with the final mode: the file is never observable with
	// broader permissions or partial content under a colliding name.
	// Stores for the same name within one second get a counter suffix.
	var f *os.File
	var filename, path string
	for i := 0; ; i++ {
		filename = stem + keyFileExt
		if i > 0 {
			filename = fmt.Sprintf("%s-%d%s", stem, i, keyFileExt)
		}
		path = filepath.Join(m.keyDir, filename)

		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create key file: %w", err)
		}
	}
	if _, err := f.Write(keyData); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close key file: %w", err)
	}

	m.logger.Debugw("stored key", "file", filename, "type", keyType)
	return path, nil
}

// LoadKey reads key material from path. For an encrypted private key
// the passphrase is verified and the decrypted PEM is returned; a nil
// passphrase for an encrypted key, or a wrong one, fails with
// ErrInvalidPassphrase.
func (m *Manager) LoadKey(path string, passphrase []byte) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("key file %s contains no PEM data", path)
	}

	if !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		return data, nil
	}

	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: key is encrypted and no passphrase given", ErrInvalidPassphrase)
	}

	der, err := x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassphrase, err)
	}

	// CBC padding can decode under a wrong passphrase; a parse failure
	// of the resulting DER is treated as a passphrase failure too.
	if _, err := parsePrivateKeyDER(block.Type, der); err != nil {
		return nil, fmt.Errorf("%w: decrypted key does not parse", ErrInvalidPassphrase)
	}

	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

// RotateKeyPair generates and stores a fresh key pair under newName and
// archives every key file matching oldName. The old material is moved,
// never deleted.
func (m *Manager) RotateKeyPair(oldName, newName string, keySize int) (privatePath, publicPath string, err error) {
	privatePEM, publicPEM, err := m.GenerateRSAKeyPair(keySize)
	if err != nil {
		return "", "", err
	}

	privatePath, err = m.StoreKey(privatePEM, newName, "private")
	if err != nil {
		return "", "", err
	}
	publicPath, err = m.StoreKey(publicPEM, newName, "public")
	if err != nil {
		return "", "", err
	}

	archived, err := m.archiveKeys(oldName)
	if err != nil {
		return "", "", fmt.Errorf("new keys stored but archiving %q failed: %w", oldName, err)
	}

	m.logger.Infow("rotated key pair",
		"old_name", oldName, "new_name", newName, "archived_files", archived)
	return privatePath, publicPath, nil
}

// archiveKeys moves all key files whose name starts with the given
// prefix into the archive subdirectory. Returns the number moved.
func (m *Manager) archiveKeys(name string) (int, error) {
	archiveDir := filepath.Join(m.keyDir, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o700); err != nil {
		return 0, fmt.Errorf("failed to create archive directory: %w", err)
	}

	entries, err := os.ReadDir(m.keyDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read key directory: %w", err)
	}

	prefix := sanitizeName(name) + "_"
	moved := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		src := filepath.Join(m.keyDir, entry.Name())
		dst := filepath.Join(archiveDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return moved, fmt.Errorf("failed to archive %s: %w", entry.Name(), err)
		}
		moved++
	}
	return moved, nil
}

// EncryptData encrypts a small payload with RSA-OAEP (SHA-256) under
// the given PEM-encoded public key. The payload must fit in a single
// OAEP block; this is not a bulk-encryption primitive.
func (m *Manager) EncryptData(data, publicKeyPEM []byte) ([]byte, error) {
	pub, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt data: %w", err)
	}
	return ciphertext, nil
}

// DecryptData decrypts an RSA-OAEP ciphertext with the given
// PEM-encoded private key, decrypting the key itself first when it is
// passphrase-protected.
func (m *Manager) DecryptData(ciphertext, privateKeyPEM, passphrase []byte) ([]byte, error) {
	key, err := parsePrivateKeyPEM(privateKeyPEM, passphrase)
	if err != nil {
		return nil, err
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

// GenerateSymmetricKey returns length cryptographically random bytes.
func (m *Manager) GenerateSymmetricKey(length int) ([]byte, error) {
	if length <= 0 {
		length = 32
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	return key, nil
}

// DeriveKeyFromPassword derives a symmetric key from a password using
// PBKDF2-HMAC-SHA256. When salt is nil a fresh random salt is
// generated; the salt in use is always returned so callers can persist
// it alongside whatever the key protects.
func (m *Manager) DeriveKeyFromPassword(password, salt []byte, length, iterations int) (key, usedSalt []byte, err error) {
	if length <= 0 {
		length = 32
	}
	if iterations <= 0 {
		iterations = policy.PBKDF2Iterations
	}
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	return pbkdf2.Key(password, salt, iterations, length, sha256.New), salt, nil
}

// ListStoredKeys returns metadata for every key file in the key
// directory (excluding archived keys), sorted newest-first.
func (m *Manager) ListStoredKeys() ([]KeyFileInfo, error) {
	entries, err := os.ReadDir(m.keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}

	var keys []KeyFileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), keyFileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(m.keyDir, entry.Name())
		keys = append(keys, KeyFileInfo{
			Filename:    entry.Name(),
			Path:        path,
			Size:        info.Size(),
			Created:     info.ModTime(),
			Modified:    info.ModTime(),
			IsEncrypted: isEncryptedKeyFile(path),
		})
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Modified.After(keys[j].Modified)
	})
	return keys, nil
}

// FindKeyFiles returns the paths of non-archived key files whose
// filename contains the given fragment, newest first.
func (m *Manager) FindKeyFiles(fragment string) ([]string, error) {
	keys, err := m.ListStoredKeys()
	if err != nil {
		return nil, err
	}

	var paths []string
	fragment = strings.ToLower(sanitizeName(fragment))
	for _, k := range keys {
		if strings.Contains(strings.ToLower(k.Filename), fragment) {
			paths = append(paths, k.Path)
		}
	}
	return paths, nil
}

// ValidateKeyStrength analyzes a PEM-encoded private key against the
// key policy and returns a structured strength report.
func (m *Manager) ValidateKeyStrength(privateKeyPEM []byte) (*KeyStrengthReport, error) {
	key, err := parsePrivateKeyPEM(privateKeyPEM, nil)
	if err != nil {
		return nil, err
	}

	report := &KeyStrengthReport{
		KeySize:          key.N.BitLen(),
		PublicExponent:   key.E,
		IsStrong:         key.N.BitLen() >= policy.StrongRSAKeySize,
		IsSecureExponent: key.E == policy.StandardExponent,
	}

	switch {
	case report.KeySize >= 4096:
		report.SecurityLevel = "very strong"
	case report.KeySize >= policy.StrongRSAKeySize:
		report.SecurityLevel = "strong"
	case report.KeySize >= 1024:
		report.SecurityLevel = "weak"
	default:
		report.SecurityLevel = "broken"
	}

	if !report.IsStrong {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("increase key size to at least %d bits", policy.MinRSAKeySize))
	}
	if !report.IsSecureExponent {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("use the standard public exponent %d", policy.StandardExponent))
	}

	return report, nil
}

// KeyDir returns the directory the manager stores keys in.
func (m *Manager) KeyDir() string {
	return m.keyDir
}

// encodeKeyPair encodes an RSA key as PKCS#8 private and PKIX public PEM.
func encodeKeyPair(key *rsa.PrivateKey) (privatePEM, publicPEM []byte, err error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{Type: pkcs8PrivateKeyPEMType, Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: pkixPublicKeyPEMType, Bytes: pubDER})
	return privatePEM, publicPEM, nil
}

// parsePrivateKeyPEM parses an RSA private key in PKCS#8 or PKCS#1 PEM
// form, decrypting it first when encrypted.
func parsePrivateKeyPEM(keyPEM, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no PEM data in key")
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%w: key is encrypted and no passphrase given", ErrInvalidPassphrase)
		}
		var err error
		der, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPassphrase, err)
		}
	}

	return parsePrivateKeyDER(block.Type, der)
}

// parsePrivateKeyDER parses DER private key bytes according to the PEM
// block type they were carried in.
func parsePrivateKeyDER(blockType string, der []byte) (*rsa.PrivateKey, error) {
	switch blockType {
	case pkcs1PrivateKeyPEMType:
		return x509.ParsePKCS1PrivateKey(der)
	default:
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			// Encrypted PKCS#1 keys keep the RSA block type only in
			// some toolchains; fall back before giving up.
			if key, pkcs1Err := x509.ParsePKCS1PrivateKey(der); pkcs1Err == nil {
				return key, nil
			}
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", parsed)
		}
		return key, nil
	}
}

// ParsePublicKeyPEM parses an RSA public key in PKIX or PKCS#1 PEM form.
func ParsePublicKeyPEM(keyPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no PEM data in key")
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", parsed)
	}
	return pub, nil
}

// ParsePrivateKeyPEM parses an RSA private key in PEM form, decrypting
// it with the passphrase when necessary.
func ParsePrivateKeyPEM(keyPEM, passphrase []byte) (*rsa.PrivateKey, error) {
	return parsePrivateKeyPEM(keyPEM, passphrase)
}

// isEncryptedKeyFile reports whether the PEM file at path holds an
// encrypted key block.
func isEncryptedKeyFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return false
	}
	return x509.IsEncryptedPEMBlock(block) //nolint:staticcheck
}

// sanitizeName strips path separators and whitespace from a key name
// so it is safe to embed in a filename.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "-", "..", "-")
	return replacer.Replace(name)
}
