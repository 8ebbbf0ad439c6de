package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamnest/internal/models"
)

type dataset struct {
	Users map[string]models.User `json:"users"`
}

// JSONStore is a file-backed Repository used for development and tests. Every
// mutation works on a cloned dataset and swaps it in only after the file write
// succeeds, so a failed persist never leaves partial state in memory.
type JSONStore struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride lets tests intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// NewJSONStore loads (or initialises) the JSON dataset at path.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		filePath: path,
		data:     dataset{Users: make(map[string]models.User)},
		now:      time.Now,
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load() error {
	raw, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return s.persistDataset(s.data)
	}
	if err != nil {
		return fmt.Errorf("read datastore: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode datastore: %w", err)
	}
	if data.Users == nil {
		data.Users = make(map[string]models.User)
	}
	s.data = data
	return nil
}

func (s *JSONStore) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".datastore-*")
	if err != nil {
		return fmt.Errorf("create datastore temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close datastore temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

func cloneDataset(data dataset) dataset {
	users := make(map[string]models.User, len(data.Users))
	for id, user := range data.Users {
		if user.WatchHistory != nil {
			user.WatchHistory = append([]string(nil), user.WatchHistory...)
		}
		users[id] = user
	}
	return dataset{Users: users}
}

// Ping reports whether the backing file is still writable.
func (s *JSONStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("datastore unavailable: %w", err)
	}
	return nil
}

func (s *JSONStore) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	username := models.NormalizeUsername(params.Username)
	email := models.NormalizeEmail(params.Email)
	if username == "" || email == "" {
		return models.User{}, errors.New("username and email are required")
	}
	hashed, err := HashPassword(params.Password)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users {
		if existing.Username == username || strings.EqualFold(existing.Email, email) {
			return models.User{}, ErrDuplicateUser
		}
	}

	now := s.now().UTC()
	user := models.User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         email,
		FullName:      strings.TrimSpace(params.FullName),
		PasswordHash:  hashed,
		AvatarURL:     params.AvatarURL,
		CoverImageURL: params.CoverImageURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

func (s *JSONStore) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok, nil
}

func (s *JSONStore) FindByIdentity(ctx context.Context, username, email string) (models.User, bool, error) {
	username = models.NormalizeUsername(username)
	email = models.NormalizeEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if username != "" && user.Username == username {
			return user, true, nil
		}
		if email != "" && strings.EqualFold(user.Email, email) {
			return user, true, nil
		}
	}
	return models.User{}, false, nil
}

func (s *JSONStore) UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	if update.Username != nil {
		candidate := models.NormalizeUsername(*update.Username)
		if candidate == "" {
			return models.User{}, errors.New("username cannot be empty")
		}
		if s.identityTakenLocked(id, candidate, "") {
			return models.User{}, ErrDuplicateUser
		}
		user.Username = candidate
	}
	if update.Email != nil {
		candidate := models.NormalizeEmail(*update.Email)
		if candidate == "" {
			return models.User{}, errors.New("email cannot be empty")
		}
		if s.identityTakenLocked(id, "", candidate) {
			return models.User{}, ErrDuplicateUser
		}
		user.Email = candidate
	}
	if update.FullName != nil {
		user.FullName = strings.TrimSpace(*update.FullName)
	}
	if update.AvatarURL != nil {
		user.AvatarURL = *update.AvatarURL
	}
	if update.CoverImageURL != nil {
		user.CoverImageURL = *update.CoverImageURL
	}
	user.UpdatedAt = s.now().UTC()

	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

func (s *JSONStore) identityTakenLocked(selfID, username, email string) bool {
	for id, existing := range s.data.Users {
		if id == selfID {
			continue
		}
		if username != "" && existing.Username == username {
			return true
		}
		if email != "" && strings.EqualFold(existing.Email, email) {
			return true
		}
	}
	return false
}

func (s *JSONStore) SetRefreshToken(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.RefreshToken = token
	user.UpdatedAt = s.now().UTC()

	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *JSONStore) SetUserPassword(ctx context.Context, id, password string) error {
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = hashed
	user.UpdatedAt = s.now().UTC()

	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

var _ Repository = (*JSONStore)(nil)
