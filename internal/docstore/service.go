// Package docstore 是远端文档存储服务：每个用户名下的容器里保存 JSON 文档，
// 通过 OAuth 风格的 token 端点签发 bearer token。
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goaly/internal/db"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidGrant 表示用户名密码或刷新令牌无效。
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrInvalidToken 表示访问令牌无效或已过期。
	ErrInvalidToken = errors.New("invalid token")
	// ErrContainerNotFound 表示容器不存在或不属于当前用户。
	ErrContainerNotFound = errors.New("container not found")
	// ErrDocumentNotFound 表示文档不存在或不属于当前用户。
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidContent 表示文档内容不是合法 JSON。
	ErrInvalidContent = errors.New("document content must be valid JSON")
	// ErrInvalidName 表示名称为空。
	ErrInvalidName = errors.New("name is required")
)

// DefaultTokenTTL 是访问令牌的默认有效期。
const DefaultTokenTTL = time.Hour

// TokenResponse 对应 token 端点的响应体。
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Service 实现文档存储的业务逻辑。
type Service struct {
	db     *gorm.DB
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewService 构造 Service，ttl<=0 时使用 DefaultTokenTTL。
func NewService(gdb *gorm.DB, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		db:     gdb,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "docstore").Logger(),
	}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// PasswordGrant 校验用户名密码并签发新的令牌对。
func (s *Service) PasswordGrant(username, password, clientID string) (TokenResponse, error) {
	user, err := db.Authenticate(s.db, username, password)
	if err != nil {
		if errors.Is(err, db.ErrInvalidCredentials) {
			return TokenResponse{}, ErrInvalidGrant
		}
		return TokenResponse{}, fmt.Errorf("authenticate: %w", err)
	}

	token := db.AccessToken{
		UserID:       user.ID,
		ClientID:     strings.TrimSpace(clientID),
		AccessToken:  newSecret(),
		RefreshToken: newSecret(),
		ExpiresAt:    s.now().Add(s.ttl).UTC(),
	}
	if err := s.db.Create(&token).Error; err != nil {
		return TokenResponse{}, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info().Str("user", user.Username).Msg("issued token")
	return s.response(token), nil
}

// RefreshGrant 用刷新令牌换取新的访问令牌，刷新令牌保持不变。
func (s *Service) RefreshGrant(refreshToken string) (TokenResponse, error) {
	var token db.AccessToken
	if err := s.db.Where("refresh_token = ?", strings.TrimSpace(refreshToken)).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TokenResponse{}, ErrInvalidGrant
		}
		return TokenResponse{}, fmt.Errorf("find refresh token: %w", err)
	}

	token.AccessToken = newSecret()
	token.ExpiresAt = s.now().Add(s.ttl).UTC()
	if err := s.db.Save(&token).Error; err != nil {
		return TokenResponse{}, fmt.Errorf("refresh token: %w", err)
	}
	return s.response(token), nil
}

// Authenticate 根据访问令牌返回用户。
func (s *Service) Authenticate(accessToken string) (*db.User, error) {
	trimmed := strings.TrimSpace(accessToken)
	if trimmed == "" {
		return nil, ErrInvalidToken
	}

	var token db.AccessToken
	if err := s.db.Preload("User").Where("access_token = ?", trimmed).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find access token: %w", err)
	}
	if !s.now().Before(token.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	return &token.User, nil
}

// RevokeTokens 删除用户的全部令牌。
func (s *Service) RevokeTokens(userID uint) error {
	if err := s.db.Unscoped().Where("user_id = ?", userID).Delete(&db.AccessToken{}).Error; err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}

// ListContainers 列出用户的容器，name 非空时按名称过滤。
func (s *Service) ListContainers(userID uint, name string) ([]db.Container, error) {
	query := s.db.Where("user_id = ?", userID)
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		query = query.Where("name = ?", trimmed)
	}

	var containers []db.Container
	if err := query.Order("id ASC").Find(&containers).Error; err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return containers, nil
}

// CreateContainer 创建容器；同名容器已存在时直接返回它。
func (s *Service) CreateContainer(userID uint, name string) (db.Container, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return db.Container{}, ErrInvalidName
	}

	container := db.Container{PublicID: uuid.NewString(), UserID: userID, Name: trimmed}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&container).Error; err != nil {
		return db.Container{}, fmt.Errorf("create container: %w", err)
	}

	var stored db.Container
	if err := s.db.Where("user_id = ? AND name = ?", userID, trimmed).First(&stored).Error; err != nil {
		return db.Container{}, fmt.Errorf("reload container: %w", err)
	}
	return stored, nil
}

// ListDocuments 列出容器中的文档。
func (s *Service) ListDocuments(userID uint, containerID, name string) ([]db.Document, error) {
	container, err := s.container(userID, containerID)
	if err != nil {
		return nil, err
	}

	query := s.db.Where("container_id = ?", container.ID)
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		query = query.Where("name = ?", trimmed)
	}

	var docs []db.Document
	if err := query.Order("id ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// CreateDocument 在容器中新建文档。
func (s *Service) CreateDocument(userID uint, containerID, name string, content []byte) (db.Document, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return db.Document{}, ErrInvalidName
	}
	if !json.Valid(content) {
		return db.Document{}, ErrInvalidContent
	}
	container, err := s.container(userID, containerID)
	if err != nil {
		return db.Document{}, err
	}

	doc := db.Document{
		PublicID:    uuid.NewString(),
		ContainerID: container.ID,
		Name:        trimmed,
		Content:     string(content),
		Revision:    1,
	}
	if err := s.db.Create(&doc).Error; err != nil {
		return db.Document{}, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// ReadDocument 读取文档。
func (s *Service) ReadDocument(userID uint, documentID string) (db.Document, error) {
	var doc db.Document
	err := s.db.Joins("Container").
		Where("documents.public_id = ? AND Container.user_id = ?", strings.TrimSpace(documentID), userID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Document{}, ErrDocumentNotFound
		}
		return db.Document{}, fmt.Errorf("read document: %w", err)
	}
	return doc, nil
}

// WriteDocument 覆盖文档内容并递增 revision。
func (s *Service) WriteDocument(userID uint, documentID string, content []byte) (db.Document, error) {
	if !json.Valid(content) {
		return db.Document{}, ErrInvalidContent
	}
	doc, err := s.ReadDocument(userID, documentID)
	if err != nil {
		return db.Document{}, err
	}

	err = s.db.Model(&db.Document{}).Where("id = ?", doc.ID).Updates(map[string]interface{}{
		"content":  string(content),
		"revision": gorm.Expr("revision + 1"),
	}).Error
	if err != nil {
		return db.Document{}, fmt.Errorf("write document: %w", err)
	}
	return s.ReadDocument(userID, documentID)
}

func (s *Service) container(userID uint, publicID string) (db.Container, error) {
	var container db.Container
	if err := s.db.Where("public_id = ? AND user_id = ?", strings.TrimSpace(publicID), userID).First(&container).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Container{}, ErrContainerNotFound
		}
		return db.Container{}, fmt.Errorf("find container: %w", err)
	}
	return container, nil
}

func (s *Service) response(token db.AccessToken) TokenResponse {
	expiresIn := int64(token.ExpiresAt.Sub(s.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: token.RefreshToken,
	}
}

func newSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
