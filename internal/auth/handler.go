package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"learnhub/internal/apperr"
	"learnhub/pkg/logger"
)

type Handler struct {
	Repo   *Repo
	Tokens TokenService
	Log    *logger.Logger
}

func NewHandler(repo *Repo, tokens TokenService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{Repo: repo, Tokens: tokens, Log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	authed := AuthMiddleware(h.Tokens, h.Repo)
	rg.POST("/login", h.login)
	rg.POST("/logout", authed, h.logout)
	rg.GET("/me", authed, h.me)
	rg.POST("/change-password", authed, h.changePassword)
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.RespondKind(c, apperr.InvalidInput, "invalid json")
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		apperr.RespondKind(c, apperr.InvalidInput, "email and password required")
		return
	}

	u, err := h.Repo.GetByEmail(c.Request.Context(), email)
	if err != nil {
		h.Log.Error("login lookup failed", "error", err)
	}
	if err != nil || u == nil {
		// don't reveal which part failed
		apperr.RespondKind(c, apperr.Unauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		apperr.RespondKind(c, apperr.Unauthorized, "invalid credentials")
		return
	}

	token, exp, err := h.Tokens.Sign(u)
	if err != nil {
		h.Log.Error("sign token failed", "user_id", u.ID, "error", err)
		apperr.RespondKind(c, apperr.Internal, "token failed")
		return
	}

	h.Log.Info("user logged in", "user_id", u.ID, "admin", u.IsAdmin)
	c.JSON(http.StatusOK, gin.H{
		"user":       userJSON(u),
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) me(c *gin.Context) {
	claims := MustGetClaims(c)
	u, err := h.Repo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil || u == nil {
		apperr.RespondKind(c, apperr.Unauthorized, "invalid token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(u)})
}

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.RespondKind(c, apperr.InvalidInput, "invalid json")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		apperr.RespondKind(c, apperr.InvalidInput, "old and new password required")
		return
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		apperr.RespondKind(c, apperr.InvalidInput, err.Error())
		return
	}

	claims := MustGetClaims(c)
	u, err := h.Repo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil || u == nil {
		apperr.RespondKind(c, apperr.Unauthorized, "invalid token")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.OldPassword)); err != nil {
		apperr.RespondKind(c, apperr.Unauthorized, "invalid credentials")
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		apperr.RespondKind(c, apperr.Internal, "hash failed")
		return
	}

	if err := h.Repo.UpdatePasswordAndBumpTokenVersion(c.Request.Context(), u.ID, hash); err != nil {
		h.Log.Error("update password failed", "user_id", u.ID, "error", err)
		apperr.RespondKind(c, apperr.Internal, "update password failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (h *Handler) logout(c *gin.Context) {
	claims := MustGetClaims(c)
	if err := h.Repo.BumpTokenVersion(c.Request.Context(), claims.UserID); err != nil {
		h.Log.Error("logout failed", "user_id", claims.UserID, "error", err)
		apperr.RespondKind(c, apperr.Internal, "logout failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func userJSON(u *User) gin.H {
	return gin.H{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
		"is_admin": u.IsAdmin,
	}
}
