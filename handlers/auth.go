package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/sessionguard/internal/models"
	"github.com/gogotex/sessionguard/internal/sessions"
	"github.com/gogotex/sessionguard/internal/tokens"
	"github.com/gogotex/sessionguard/internal/users"
	"github.com/gogotex/sessionguard/pkg/logger"
	"github.com/gogotex/sessionguard/pkg/middleware"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	DeviceID string `json:"deviceId"`
}

type SignupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
	DeviceID     string `json:"deviceId"`
	UserAgent    string `json:"userAgent"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
	AllDevices   bool   `json:"allDevices"`
}

type RevokeDeviceRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

// TokenResponse is returned by login and refresh. ExpiresIn is the access
// token lifetime in seconds.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// SessionView is a session as shown to its owner; the token hash stays private.
type SessionView struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"deviceId"`
	UserAgent  string     `json:"userAgent"`
	SourceIP   string     `json:"sourceIp"`
	IssuedAt   time.Time  `json:"issuedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	signer      *tokens.Signer
	blacklist   *tokens.Blacklist
	trustProxy  bool
}

func NewAuthHandler(u *users.Service, s *sessions.Service, signer *tokens.Signer, bl *tokens.Blacklist, trustProxy bool) *AuthHandler {
	return &AuthHandler{usersSvc: u, sessionsSvc: s, signer: signer, blacklist: bl, trustProxy: trustProxy}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg gin.IRouter) {
	a := rg.Group("/auth")
	a.POST("/signup", h.Signup)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)

	protected := a.Group("/sessions", middleware.AuthMiddleware(h.signer, h.blacklist))
	protected.GET("", h.ListSessions)
	protected.POST("/revoke-device", h.RevokeDevice)
}

func (h *AuthHandler) device(c *gin.Context, deviceID, userAgent string) sessions.DeviceInfo {
	if userAgent == "" {
		userAgent = c.GetHeader("User-Agent")
	}
	return sessions.DeviceInfo{
		DeviceID:  deviceID,
		UserAgent: userAgent,
		SourceIP:  middleware.ClientIP(c.Request, h.trustProxy),
	}
}

func (h *AuthHandler) issue(c *gin.Context, id models.Identity, refresh string) {
	access, _, err := h.signer.IssueAccessToken(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(h.signer.TTL().Seconds()),
	})
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.usersSvc.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("user registered: id=%s", u.ID)
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": u.ID, "email": u.Email})
}

// Login verifies credentials and opens a session for the device.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	id, err := h.usersSvc.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	iss, err := h.sessionsSvc.Create(ctx, id, h.device(c, req.DeviceID, ""))
	if err != nil {
		writeError(c, err)
		return
	}
	h.issue(c, id, iss.RefreshToken)
}

// Refresh rotates the presented refresh token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	iss, err := h.sessionsSvc.Rotate(c.Request.Context(), req.RefreshToken, h.device(c, req.DeviceID, req.UserAgent))
	if err != nil {
		writeError(c, err)
		return
	}
	h.issue(c, models.Identity{ID: iss.Session.UserID, Email: iss.Session.UserEmail}, iss.RefreshToken)
}

// Logout revokes the refresh session (or every session of its owner with
// allDevices) and blacklists the bearer access token when one is sent.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	if at, ok := middleware.BearerToken(c); ok {
		if claims, err := h.signer.Claims(at); err == nil && claims.ExpiresAt != nil {
			if err := h.blacklist.Add(ctx, at, time.Until(claims.ExpiresAt.Time)); err != nil {
				writeError(c, err)
				return
			}
		}
	}

	if req.AllDevices {
		sess, err := h.sessionsSvc.Lookup(ctx, req.RefreshToken)
		if err != nil {
			writeError(c, err)
			return
		}
		if sess != nil {
			n, err := h.sessionsSvc.RevokeAllSessions(ctx, sess.UserID)
			if err != nil {
				writeError(c, err)
				return
			}
			logger.Infof("logout all devices: user=%s revoked=%d", sess.UserID, n)
		}
	} else if err := h.sessionsSvc.RevokeSessionByTokenValue(ctx, req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out"})
}

func (h *AuthHandler) ListSessions(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	list, err := h.sessionsSvc.ListActiveSessions(c.Request.Context(), id.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]SessionView, 0, len(list))
	for _, s := range list {
		out = append(out, SessionView{
			ID:         s.ID,
			DeviceID:   s.DeviceID,
			UserAgent:  s.UserAgent,
			SourceIP:   s.SourceIP,
			IssuedAt:   s.IssuedAt,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": out})
}

func (h *AuthHandler) RevokeDevice(c *gin.Context) {
	var req RevokeDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, _ := middleware.IdentityFrom(c)
	n, err := h.sessionsSvc.RevokeSessionsForDevice(c.Request.Context(), id.ID, req.DeviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "revoked": n})
}
