package client

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

const (
	globalIdentityFile = "identity.json"
	tokensFile         = "tokens.json"
)

// FileIdentityStore keeps the persisted identity in JSON files under a
// directory: one global file shared by every activity, one file per
// activity, and a token map keyed by room id. It is the file-system
// analogue of the browser's two localStorage scopes.
type FileIdentityStore struct {
	dir      string
	activity string
}

// NewFileIdentityStore creates a store rooted at dir for the named
// activity. The directory is created on demand.
func NewFileIdentityStore(dir, activity string) *FileIdentityStore {
	return &FileIdentityStore{dir: dir, activity: activity}
}

func (s *FileIdentityStore) globalPath() string {
	return filepath.Join(s.dir, globalIdentityFile)
}

func (s *FileIdentityStore) activityPath() string {
	return filepath.Join(s.dir, "identity_"+s.activity+".json")
}

func (s *FileIdentityStore) tokensPath() string {
	return filepath.Join(s.dir, tokensFile)
}

// LoadGlobal returns the cross-activity identity, or nil when absent.
func (s *FileIdentityStore) LoadGlobal() (*interfaces.Identity, error) {
	return s.load(s.globalPath())
}

// LoadActivity returns the per-activity identity, or nil when absent.
func (s *FileIdentityStore) LoadActivity() (*interfaces.Identity, error) {
	return s.load(s.activityPath())
}

func (s *FileIdentityStore) load(path string) (*interfaces.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var id interfaces.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		// A corrupt identity file is treated as absent; the student
		// simply re-enters the code.
		return nil, nil
	}
	if id.SessionCode == "" || id.Alias == "" {
		return nil, nil
	}
	return &id, nil
}

// SaveGlobal persists the identity at the global scope.
func (s *FileIdentityStore) SaveGlobal(id *interfaces.Identity) error {
	return s.save(s.globalPath(), id)
}

// SaveActivity persists the identity at the activity scope.
func (s *FileIdentityStore) SaveActivity(id *interfaces.Identity) error {
	return s.save(s.activityPath(), id)
}

func (s *FileIdentityStore) save(path string, id *interfaces.Identity) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Token returns the stored client token for a (code, alias) pair.
func (s *FileIdentityStore) Token(code, alias string) (string, bool) {
	tokens := s.loadTokens()
	token, ok := tokens[types.RoomID(code, alias)]
	return token, ok
}

// SaveToken records the client token for a (code, alias) pair.
func (s *FileIdentityStore) SaveToken(code, alias, token string) error {
	tokens := s.loadTokens()
	tokens[types.RoomID(code, alias)] = token
	return s.saveTokens(tokens)
}

// Clear removes both identity scopes and the token entry for the pair.
func (s *FileIdentityStore) Clear(code, alias string) error {
	if err := removeIfExists(s.globalPath()); err != nil {
		return err
	}
	if err := removeIfExists(s.activityPath()); err != nil {
		return err
	}
	tokens := s.loadTokens()
	delete(tokens, types.RoomID(code, alias))
	return s.saveTokens(tokens)
}

func (s *FileIdentityStore) loadTokens() map[string]string {
	tokens := make(map[string]string)
	data, err := os.ReadFile(s.tokensPath())
	if err != nil {
		return tokens
	}
	_ = json.Unmarshal(data, &tokens)
	return tokens
}

func (s *FileIdentityStore) saveTokens(tokens map[string]string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(s.tokensPath(), data, 0o600)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
