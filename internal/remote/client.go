package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goaly/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	// DefaultContainerName 是远端应用文件夹的名称。
	DefaultContainerName = "goaly"
	// DefaultDocumentName 是远端数据文件的名称。
	DefaultDocumentName = "goaly-data.json"
)

var errHTTPNotFound = errors.New("not found")

// Config 描述远端文档存储的连接参数。
type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	ContainerName string
	DocumentName  string
	HTTPClient    *http.Client
	Now           func() time.Time
	Logger        zerolog.Logger
}

// Client 通过 HTTP 访问文档存储服务。
// 访问令牌过期时由 oauth2 自动刷新；收到 401 时强制刷新并重试一次。
type Client struct {
	baseURL       string
	containerName string
	documentName  string
	http          *http.Client
	oauth         *oauth2.Config
	tokens        TokenStore
	now           func() time.Time
	logger        zerolog.Logger

	mu          sync.Mutex
	token       *oauth2.Token
	loaded      bool
	containerID string
}

// NewClient 构造 Client。
func NewClient(cfg Config, tokens TokenStore) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	container := strings.TrimSpace(cfg.ContainerName)
	if container == "" {
		container = DefaultContainerName
	}
	document := strings.TrimSpace(cfg.DocumentName)
	if document == "" {
		document = DefaultDocumentName
	}

	return &Client{
		baseURL:       base,
		containerName: container,
		documentName:  document,
		http:          httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens: tokens,
		now:    now,
		logger: cfg.Logger.With().Str("component", "remote").Logger(),
	}
}

// Login 使用用户名密码换取 token 并保存。
func (c *Client) Login(ctx context.Context, username, password string) error {
	token, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), username, password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.loaded = true
	c.containerID = ""
	return c.saveToken(token)
}

// Logout 删除本地保存的 token。
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
	c.loaded = true
	c.containerID = ""
	if c.tokens == nil {
		return nil
	}
	return c.tokens.DeleteToken()
}

// IsAuthenticated 报告是否持有可用（或可刷新）的 token。
func (c *Client) IsAuthenticated() bool {
	if c.baseURL == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadTokenLocked()
	return c.token != nil && (c.token.AccessToken != "" || c.token.RefreshToken != "")
}

// FindOrCreateContainer 返回应用文件夹的 id，不存在时创建。
func (c *Client) FindOrCreateContainer(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.containerID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var list struct {
		Containers []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"containers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/containers?name="+url.QueryEscape(c.containerName), nil, &list); err != nil {
		return "", fmt.Errorf("find container: %w", err)
	}

	id := ""
	if len(list.Containers) > 0 {
		id = list.Containers[0].ID
	} else {
		var created struct {
			ID string `json:"id"`
		}
		if err := c.doJSON(ctx, http.MethodPost, "/api/v1/containers", map[string]string{"name": c.containerName}, &created); err != nil {
			return "", fmt.Errorf("create container: %w", err)
		}
		id = created.ID
		c.logger.Info().Str("container", id).Msg("created remote container")
	}

	c.mu.Lock()
	c.containerID = id
	c.mu.Unlock()
	return id, nil
}

// FindDocument 在容器中查找数据文件，不存在时返回 nil。
func (c *Client) FindDocument(ctx context.Context, containerID string) (*DocumentInfo, error) {
	var list struct {
		Documents []DocumentInfo `json:"documents"`
	}
	path := fmt.Sprintf("/api/v1/containers/%s/documents?name=%s", url.PathEscape(containerID), url.QueryEscape(c.documentName))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	if len(list.Documents) == 0 {
		return nil, nil
	}
	doc := list.Documents[0]
	return &doc, nil
}

// Upload 把 goal 与设置写入远端文件，不存在时创建。
func (c *Client) Upload(ctx context.Context, goals []model.Goal, settings model.Settings) (UploadResult, error) {
	payload := BuildExportPayload(goals, settings, c.now())
	content, err := json.Marshal(payload)
	if err != nil {
		return UploadResult{}, fmt.Errorf("encode payload: %w", err)
	}

	containerID, err := c.FindOrCreateContainer(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	doc, err := c.FindDocument(ctx, containerID)
	if err != nil {
		return UploadResult{}, err
	}

	var info DocumentInfo
	if doc == nil {
		body := map[string]any{"name": c.documentName, "content": json.RawMessage(content)}
		path := fmt.Sprintf("/api/v1/containers/%s/documents", url.PathEscape(containerID))
		if err := c.doJSON(ctx, http.MethodPost, path, body, &info); err != nil {
			return UploadResult{}, fmt.Errorf("create document: %w", err)
		}
	} else {
		path := fmt.Sprintf("/api/v1/documents/%s/content", url.PathEscape(doc.ID))
		data, _, err := c.do(ctx, http.MethodPut, path, content)
		if err != nil {
			return UploadResult{}, fmt.Errorf("write document: %w", err)
		}
		if err := json.Unmarshal(data, &info); err != nil {
			return UploadResult{}, fmt.Errorf("decode document: %w", err)
		}
	}

	return UploadResult{
		DocumentID: info.ID,
		Version:    payload.Version,
		ExportDate: *payload.ExportDate,
	}, nil
}

// Download 读取远端文件，不存在时返回 ErrDocumentNotFound。
func (c *Client) Download(ctx context.Context) (Download, error) {
	containerID, err := c.FindOrCreateContainer(ctx)
	if err != nil {
		return Download{}, err
	}
	doc, err := c.FindDocument(ctx, containerID)
	if err != nil {
		return Download{}, err
	}
	if doc == nil {
		return Download{}, ErrDocumentNotFound
	}

	path := fmt.Sprintf("/api/v1/documents/%s/content", url.PathEscape(doc.ID))
	data, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return Download{}, ErrDocumentNotFound
		}
		return Download{}, fmt.Errorf("read document: %w", err)
	}

	return Download{Data: data, DocumentID: doc.ID, ModifiedTime: doc.ModifiedTime}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}
	data, _, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do 发送带认证的请求；第一次收到 401 时强制刷新 token 后重试，第二次 401 返回 ErrUnauthorized。
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, http.Header, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.currentToken(ctx, attempt > 0)
		if err != nil {
			return nil, nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, nil, fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("User-Agent", "goaly-sync/1.0")
		token.SetAuthHeader(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, nil, fmt.Errorf("read response: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.logger.Warn().Str("path", path).Int("attempt", attempt+1).Msg("remote store returned 401")
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, nil, errHTTPNotFound
		case resp.StatusCode >= 400:
			msg := strings.TrimSpace(string(data))
			if len(msg) > 200 {
				msg = msg[:200]
			}
			return nil, nil, fmt.Errorf("%s %s: %s (%s)", method, path, resp.Status, msg)
		}
		return data, resp.Header, nil
	}
	return nil, nil, ErrUnauthorized
}

func (c *Client) currentToken(ctx context.Context, force bool) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadTokenLocked()
	if c.token == nil {
		return nil, ErrNotAuthenticated
	}
	if !force && c.token.Valid() {
		return c.token, nil
	}
	if c.token.RefreshToken == "" {
		return nil, ErrUnauthorized
	}

	stale := &oauth2.Token{RefreshToken: c.token.RefreshToken}
	refreshed, err := c.oauth.TokenSource(c.oauthContext(ctx), stale).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", ErrUnauthorized, err)
	}
	c.token = refreshed
	if err := c.saveToken(refreshed); err != nil {
		c.logger.Warn().Err(err).Msg("persist refreshed token failed")
	}
	return refreshed, nil
}

func (c *Client) loadTokenLocked() {
	if c.loaded || c.tokens == nil {
		return
	}
	c.loaded = true
	token, err := c.tokens.LoadToken()
	if err != nil {
		c.logger.Warn().Err(err).Msg("load remote token failed")
		return
	}
	c.token = token
}

func (c *Client) saveToken(token *oauth2.Token) error {
	if c.tokens == nil {
		return nil
	}
	return c.tokens.SaveToken(token)
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}
