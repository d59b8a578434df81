package remote

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goaly/internal/db"
	"golang.org/x/oauth2"
)

// TokenStore 保存 OAuth token。
type TokenStore interface {
	LoadToken() (*oauth2.Token, error)
	SaveToken(token *oauth2.Token) error
	DeleteToken() error
}

// DBTokenStore 把 token 保存在本地 StorageRecord 中。
type DBTokenStore struct {
	store *db.Store
}

// NewDBTokenStore 构造 DBTokenStore。
func NewDBTokenStore(store *db.Store) *DBTokenStore {
	return &DBTokenStore{store: store}
}

// LoadToken 读取 token，不存在时返回 nil。
func (s *DBTokenStore) LoadToken() (*oauth2.Token, error) {
	raw, ok, err := s.store.Get(db.StorageKeyRemoteToken)
	if err != nil || !ok {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("decode remote token: %w", err)
	}
	return &token, nil
}

// SaveToken 覆盖保存 token。
func (s *DBTokenStore) SaveToken(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode remote token: %w", err)
	}
	return s.store.Put(db.StorageKeyRemoteToken, string(data))
}

// DeleteToken 删除 token。
func (s *DBTokenStore) DeleteToken() error {
	return s.store.Delete(db.StorageKeyRemoteToken)
}

// MemoryTokenStore 是进程内的 TokenStore，用于测试。
type MemoryTokenStore struct {
	mu    sync.Mutex
	token *oauth2.Token
}

// LoadToken 实现 TokenStore。
func (s *MemoryTokenStore) LoadToken() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, nil
	}
	copied := *s.token
	return &copied, nil
}

// SaveToken 实现 TokenStore。
func (s *MemoryTokenStore) SaveToken(token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.token = &copied
	return nil
}

// DeleteToken 实现 TokenStore。
func (s *MemoryTokenStore) DeleteToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	return nil
}
