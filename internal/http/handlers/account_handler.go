// README: Register/login/logout/profile handlers shared by the rider and driver services.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/middleware"
	"ridehail/internal/infra"
	"ridehail/internal/modules/account"
	"ridehail/internal/types"
)

type accountHandler struct {
	role     types.Role
	accounts *account.Service
	verifier infra.TokenVerifier
}

type registerReq struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	LicenseNumber string `json:"licenseNumber"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResp struct {
	Token   string           `json:"token"`
	Account *account.Account `json:"account"`
}

func (h *accountHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := h.accounts.Register(c.Request.Context(), account.RegisterCommand{
		Role:          h.role,
		Name:          req.Name,
		Email:         req.Email,
		Password:      req.Password,
		LicenseNumber: req.LicenseNumber,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	setSessionCookie(c, sess.Token, sess.ExpiresAt)
	writeJSON(c, http.StatusCreated, sessionResp{Token: sess.Token, Account: sess.Account})
}

func (h *accountHandler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := h.accounts.Login(c.Request.Context(), account.LoginCommand{
		Role:     h.role,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	setSessionCookie(c, sess.Token, sess.ExpiresAt)
	writeJSON(c, http.StatusOK, sessionResp{Token: sess.Token, Account: sess.Account})
}

// Logout clears the session cookie and, when the presented token is still
// valid, revokes it for the rest of its lifetime.
func (h *accountHandler) Logout(c *gin.Context) {
	if raw, ok := middleware.TokenFromRequest(c); ok {
		if tok, err := h.verifier.VerifyIDToken(c.Request.Context(), raw); err == nil {
			if err := h.accounts.Logout(c.Request.Context(), raw, tok.ExpiresAt); err != nil {
				writeDomainError(c, err)
				return
			}
		}
	}
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", false, true)
	writeJSON(c, http.StatusOK, messageResponse{Message: "logged out successfully"})
}

func (h *accountHandler) profile(c *gin.Context) (*account.Account, bool) {
	a, err := h.accounts.Profile(c.Request.Context(), callerID(c))
	if err != nil {
		writeDomainError(c, err)
		return nil, false
	}
	return a, true
}

func setSessionCookie(c *gin.Context, token string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, maxAge, "/", "", false, true)
}
