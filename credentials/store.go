package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailroute/mailroute/pkg/destination"
)

const (
	DefaultConfigDir       = ".mailroute"
	DefaultCredentialsFile = "destinations.yaml"
)

// Common errors.
var (
	// ErrNotConnected is returned when no credential exists for an integration.
	ErrNotConnected = errors.New("destination not connected")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Connection is one stored destination credential. The API key is encrypted
// at rest.
type Connection struct {
	Integration string    `yaml:"integration"`
	BaseURL     string    `yaml:"base_url"`
	APIKey      string    `yaml:"api_key"`
	BaseID      string    `yaml:"base_id,omitempty"`
	LastUpdated time.Time `yaml:"last_updated"`
}

type credentialsFile struct {
	Connections map[string]*Connection `yaml:"connections"`
}

// Store manages destination credential storage.
type Store struct {
	dir           string
	encryptionKey []byte
}

// NewStore creates a credential store using the default key provider.
func NewStore() (*Store, error) {
	provider, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(provider)
}

// NewStoreWithKeyProvider creates a credential store with a custom key
// provider.
func NewStoreWithKeyProvider(provider KeyProvider) (*Store, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting config directory: %w", err)
	}

	key, err := provider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{dir: dir, encryptionKey: key}, nil
}

// ConfigDir returns the config directory. Uses $MAILROUTE_CONFIG_DIR when
// set, otherwise ~/.mailroute.
func ConfigDir() (string, error) {
	if dir := os.Getenv("MAILROUTE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// Connect stores a credential for an integration, replacing any existing one.
func (s *Store) Connect(conn *Connection) error {
	if conn.Integration == "" {
		return fmt.Errorf("integration name is required")
	}

	file, err := s.load()
	if err != nil {
		return err
	}

	stored := *conn
	stored.LastUpdated = time.Now()
	if stored.APIKey != "" {
		encrypted, err := s.encrypt(stored.APIKey)
		if err != nil {
			return fmt.Errorf("encrypting API key: %w", err)
		}
		stored.APIKey = encrypted
	}

	file.Connections[conn.Integration] = &stored
	return s.save(file)
}

// Get returns the decrypted credential for an integration.
func (s *Store) Get(integration string) (*Connection, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}

	stored, ok := file.Connections[integration]
	if !ok {
		return nil, fmt.Errorf("%q: %w", integration, ErrNotConnected)
	}

	conn := *stored
	if conn.APIKey != "" {
		decrypted, err := s.decrypt(conn.APIKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting API key for %q: %w", integration, err)
		}
		conn.APIKey = decrypted
	}
	return &conn, nil
}

// Disconnect removes a stored credential.
func (s *Store) Disconnect(integration string) error {
	file, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := file.Connections[integration]; !ok {
		return fmt.Errorf("%q: %w", integration, ErrNotConnected)
	}
	delete(file.Connections, integration)
	return s.save(file)
}

// List returns the connected integration names, sorted.
func (s *Store) List() ([]string, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(file.Connections))
	for name := range file.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// All returns decrypted credentials for every connected destination, in the
// form the pipeline consumes.
func (s *Store) All() ([]destination.Credentials, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	creds := make([]destination.Credentials, 0, len(names))
	for _, name := range names {
		conn, err := s.Get(name)
		if err != nil {
			return nil, err
		}
		creds = append(creds, destination.Credentials{
			Integration: conn.Integration,
			BaseURL:     conn.BaseURL,
			APIKey:      conn.APIKey,
			BaseID:      conn.BaseID,
		})
	}
	return creds, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, DefaultCredentialsFile)
}

func (s *Store) load() (*credentialsFile, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &credentialsFile{Connections: map[string]*Connection{}}, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	if file.Connections == nil {
		file.Connections = map[string]*Connection{}
	}
	return &file, nil
}

func (s *Store) save(file *credentialsFile) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.WriteFile(s.path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// MaskAPIKey returns a masked API key for display.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", 8) + "..." + apiKey[len(apiKey)-4:]
}
