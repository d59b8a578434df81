package docstore

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/db"
)

const (
	userContextKey = "docstore_user"
	maxContentSize = 32 << 20
)

// Handler 把 Service 暴露为 HTTP 接口。
type Handler struct {
	service *Service
}

// NewHandler 构造 Handler。
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type containerResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type documentResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Revision     int64     `json:"revision"`
}

type createContainerRequest struct {
	Name string `json:"name"`
}

type createDocumentRequest struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// Token 实现 OAuth2 token 端点，支持 password 与 refresh_token 两种 grant。
func (h *Handler) Token(c *gin.Context) {
	var (
		resp TokenResponse
		err  error
	)
	switch c.PostForm("grant_type") {
	case "password":
		resp, err = h.service.PasswordGrant(c.PostForm("username"), c.PostForm("password"), c.PostForm("client_id"))
	case "refresh_token":
		resp, err = h.service.RefreshGrant(c.PostForm("refresh_token"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}

	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// BearerRequired 校验 Authorization 头并把用户放进上下文。
func (h *Handler) BearerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			c.Header("WWW-Authenticate", `Bearer realm="docstore"`)
			respondError(c, http.StatusUnauthorized, "缺少访问令牌")
			c.Abort()
			return
		}

		user, err := h.service.Authenticate(token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
				respondError(c, http.StatusUnauthorized, "访问令牌无效或已过期")
			} else {
				respondError(c, http.StatusInternalServerError, "校验访问令牌失败")
			}
			c.Abort()
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// ListContainers 按名称列出容器。
func (h *Handler) ListContainers(c *gin.Context) {
	user := currentUser(c)
	containers, err := h.service.ListContainers(user.ID, c.Query("name"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取容器失败")
		return
	}

	items := make([]containerResponse, 0, len(containers))
	for _, container := range containers {
		items = append(items, toContainerResponse(container))
	}
	c.JSON(http.StatusOK, gin.H{"containers": items})
}

// CreateContainer 创建容器。
func (h *Handler) CreateContainer(c *gin.Context) {
	var req createContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "请求格式错误")
		return
	}

	container, err := h.service.CreateContainer(currentUser(c).ID, req.Name)
	if err != nil {
		if errors.Is(err, ErrInvalidName) {
			respondError(c, http.StatusBadRequest, "名称不能为空")
			return
		}
		respondError(c, http.StatusInternalServerError, "创建容器失败")
		return
	}
	c.JSON(http.StatusCreated, toContainerResponse(container))
}

// ListDocuments 列出容器中的文档。
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.service.ListDocuments(currentUser(c).ID, c.Param("id"), c.Query("name"))
	if err != nil {
		h.respondServiceError(c, err, "获取文档失败")
		return
	}

	items := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toDocumentResponse(doc))
	}
	c.JSON(http.StatusOK, gin.H{"documents": items})
}

// CreateDocument 在容器中新建文档。
func (h *Handler) CreateDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "请求格式错误")
		return
	}

	doc, err := h.service.CreateDocument(currentUser(c).ID, c.Param("id"), req.Name, req.Content)
	if err != nil {
		h.respondServiceError(c, err, "创建文档失败")
		return
	}
	c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

// ReadContent 返回文档的原始 JSON 内容。
func (h *Handler) ReadContent(c *gin.Context) {
	doc, err := h.service.ReadDocument(currentUser(c).ID, c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err, "读取文档失败")
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc.Content))
}

// WriteContent 用请求体覆盖文档内容。
func (h *Handler) WriteContent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxContentSize))
	if err != nil {
		respondError(c, http.StatusBadRequest, "读取请求失败")
		return
	}

	doc, err := h.service.WriteDocument(currentUser(c).ID, c.Param("id"), body)
	if err != nil {
		h.respondServiceError(c, err, "写入文档失败")
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) respondServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrContainerNotFound):
		respondError(c, http.StatusNotFound, "容器不存在")
	case errors.Is(err, ErrDocumentNotFound):
		respondError(c, http.StatusNotFound, "文档不存在")
	case errors.Is(err, ErrInvalidContent):
		respondError(c, http.StatusBadRequest, "文档内容必须是合法 JSON")
	case errors.Is(err, ErrInvalidName):
		respondError(c, http.StatusBadRequest, "名称不能为空")
	default:
		h.service.logger.Error().Err(err).Msg(fallback)
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

func currentUser(c *gin.Context) *db.User {
	value, _ := c.Get(userContextKey)
	user, _ := value.(*db.User)
	if user == nil {
		return &db.User{}
	}
	return user
}

func toContainerResponse(container db.Container) containerResponse {
	return containerResponse{ID: container.PublicID, Name: container.Name, CreatedAt: container.CreatedAt.UTC()}
}

func toDocumentResponse(doc db.Document) documentResponse {
	return documentResponse{
		ID:           doc.PublicID,
		Name:         doc.Name,
		ModifiedTime: doc.UpdatedAt.UTC(),
		Revision:     doc.Revision,
	}
}
