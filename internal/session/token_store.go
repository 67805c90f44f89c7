package session

// ============================================================================
// 職責說明：
// 1. 保存 token 的固定儲存位置（唯一跨重啟保留的狀態）
// 2. 檔案版本使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// ============================================================================

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSlot       = errors.New("token slot is corrupted")
	ErrIncompatibleVersion = errors.New("token slot schema version is incompatible")
)

// slotSchemaVersion 目前的檔案格式版本
const slotSchemaVersion = 1

// TokenStore token 的持久化位置
// 只有 Manager 的 login/logout/expire 會寫入，其他元件只透過 Manager 讀取
type TokenStore interface {
	// Load 讀取 token，不存在時返回空字串與 nil
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// ============================================================================
// FileStore
// ============================================================================

// tokenSlot 檔案內容
type tokenSlot struct {
	Token     string    `json:"token"`
	SchemaVer int       `json:"schema_ver"`
	SavedAt   time.Time `json:"saved_at"`
}

// FileStore 以 JSON 檔案保存 token
type FileStore struct {
	path string     // 檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewFileStore 建立檔案儲存
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
	}
}

// Save 原子性寫入 token
//
// 使用原子性寫入流程：
// 1. 寫入臨時檔案（.tmp），權限 0600
// 2. 使用 os.Rename 原子性替換原始檔案
//
// 參數：
//   - token: 伺服器發出的 token
//
// 返回值：
//   - error: 寫入失敗時的錯誤
func (s *FileStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(tokenSlot{
		Token:     token,
		SchemaVer: slotSchemaVersion,
		SavedAt:   time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token slot: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp token slot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename token slot: %w", err)
	}
	return nil
}

// Load 載入 token
//
// 行為：
//   - 檔案不存在時返回空字串（首次啟動或已登出）
//   - 偵測損壞的檔案與不相容的版本
func (s *FileStore) Load(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token slot: %w", err)
	}

	var slot tokenSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedSlot, err)
	}
	if slot.SchemaVer != slotSchemaVersion {
		return "", fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, slot.SchemaVer, slotSchemaVersion)
	}
	return slot.Token, nil
}

// Clear 刪除檔案，檔案不存在不視為錯誤
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token slot: %w", err)
	}
	return nil
}

// Path 檔案路徑
func (s *FileStore) Path() string {
	return s.path
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore 只存在於行程內，用於測試與 --no-persist
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore 建立記憶體儲存，token 可為空
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
