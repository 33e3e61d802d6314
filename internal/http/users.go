package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mediahub/internal/apperr"
	"mediahub/internal/domain"
	"mediahub/internal/service"
)

const (
	refreshCookieName = "refresh_token"
	userContextKey    = "user"
	sessionContextKey = "session"
)

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth resolves the bearer access token and stores the user and
// session on the context.
func (h *Handler) requireAuth(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		h.writeError(c, apperr.ErrUnauthorized)
		return
	}
	user, session, err := h.sessions.ResolveAccess(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Set(userContextKey, user)
	c.Set(sessionContextKey, session)
	c.Next()
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(userContextKey).(*domain.User)
}

func currentSession(c *gin.Context) *domain.AuthSession {
	return c.MustGet(sessionContextKey).(*domain.AuthSession)
}

func setRefreshCookie(c *gin.Context, pair *service.TokenPair) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  pair.RefreshExpiresAt.UTC(),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func clearRefreshCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

type UserResponse struct {
	ID                      int64   `json:"id"`
	Username                string  `json:"username"`
	Email                   *string `json:"email"`
	FullName                *string `json:"full_name"`
	EmailVerificationStatus string  `json:"email_verification_status"`
	CreatedAt               string  `json:"created_at"`
	UpdatedAt               string  `json:"updated_at"`
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:                      user.ID,
		Username:                user.Username,
		Email:                   user.Email,
		FullName:                user.FullName,
		EmailVerificationStatus: string(user.EmailVerificationStatus),
		CreatedAt:               user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:               user.UpdatedAt.Format(time.RFC3339),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type registerRequest struct {
	Username string  `json:"username" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Invalid(err.Error()))
		return
	}

	user, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userToResponse(user))
}

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// login accepts either a JSON body or an OAuth2 style password form.
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeError(c, apperr.Invalid(err.Error()))
		return
	}

	_, pair, err := h.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	setRefreshCookie(c, pair)
	c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, TokenType: "bearer"})
}

func (h *Handler) refresh(c *gin.Context) {
	token, err := c.Cookie(refreshCookieName)
	if err != nil || token == "" {
		h.writeError(c, apperr.ErrUnauthorized)
		return
	}

	_, pair, err := h.sessions.Refresh(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}

	setRefreshCookie(c, pair)
	c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, TokenType: "bearer"})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.sessions.End(c.Request.Context(), currentSession(c)); err != nil {
		h.writeError(c, err)
		return
	}
	clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"detail": "Logged out"})
}

func (h *Handler) info(c *gin.Context) {
	c.JSON(http.StatusOK, userToResponse(currentUser(c)))
}

type updateRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
}

func (h *Handler) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Invalid(err.Error()))
		return
	}

	user, err := h.users.Update(c.Request.Context(), currentUser(c), service.UpdateInput{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

func (h *Handler) sendVerificationEmail(c *gin.Context) {
	if err := h.users.SendVerificationEmail(c.Request.Context(), currentUser(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"detail": "Verification email sent"})
}

func (h *Handler) verifyEmail(c *gin.Context) {
	user, err := h.users.VerifyEmail(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

type passwordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) requestPasswordReset(c *gin.Context) {
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Invalid(err.Error()))
		return
	}
	if err := h.users.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"detail": "If the email is registered, a reset link has been sent"})
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Invalid(err.Error()))
		return
	}
	user, err := h.users.ResetPassword(c.Request.Context(), req.Token, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}
