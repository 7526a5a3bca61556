package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/auth"
	"github.com/mescon/Seedrarr/internal/logger"
)

// handleAuthStatus reports whether a Seedr token is on file.
func (s *RESTServer) handleAuthStatus(c *gin.Context) {
	authenticated := s.tokens != nil && s.tokens.IsAuthenticated()

	response := gin.H{"authenticated": authenticated}

	// Enrich with account info when we can reach Seedr; failures here are
	// not fatal, the token might simply need a refresh on next use.
	if authenticated && s.seedr != nil {
		if info, err := s.seedr.GetAccountInfo(c.Request.Context()); err == nil {
			response["account"] = info
		} else {
			logger.Debugf("Account info lookup failed during auth status: %v", err)
		}
	}

	c.JSON(http.StatusOK, response)
}

// handleAuthLogin starts the Seedr device authorization flow and returns the
// user code the user must enter at the verification URI.
func (s *RESTServer) handleAuthLogin(c *gin.Context) {
	if s.tokens == nil {
		respondServiceUnavailable(c, "Seedr authentication")
		return
	}

	flow, err := s.tokens.StartDeviceFlow(c.Request.Context())
	if err != nil {
		respondWithError(c, http.StatusBadGateway, "Failed to start Seedr device authorization", err)
		return
	}

	c.JSON(http.StatusOK, flow)
}

// authPollRequest carries the device code being polled.
type authPollRequest struct {
	DeviceCode string `json:"device_code" binding:"required"`
}

// handleAuthPoll makes one token poll attempt for a pending device code.
// While the user has not yet approved the code the response is 200 with
// status "pending" so UI polling loops can keep going without special-casing
// an error status.
func (s *RESTServer) handleAuthPoll(c *gin.Context) {
	if s.tokens == nil {
		respondServiceUnavailable(c, "Seedr authentication")
		return
	}

	var req authPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	err := s.tokens.TryPollOnce(c.Request.Context(), req.DeviceCode)
	if errors.Is(err, auth.ErrAuthorizationPending) {
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
		return
	}
	if err != nil {
		respondWithError(c, http.StatusBadGateway, "Device authorization failed", err)
		return
	}

	logger.Infof("Seedr device authorization complete")
	c.JSON(http.StatusOK, gin.H{"status": "authenticated"})
}

// handleAuthLogout drops the stored Seedr token.
func (s *RESTServer) handleAuthLogout(c *gin.Context) {
	if s.tokens == nil {
		respondServiceUnavailable(c, "Seedr authentication")
		return
	}

	if err := s.tokens.ClearToken(); err != nil {
		respondDatabaseError(c, err)
		return
	}

	logger.Infof("Seedr token cleared")
	c.JSON(http.StatusOK, gin.H{"message": "Logged out of Seedr"})
}

// sessionCredentialsRequest is the body for session setup and login.
type sessionCredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleSessionStatus reports whether web credentials are configured. The UI
// uses this to decide between the setup wizard and the login form.
func (s *RESTServer) handleSessionStatus(c *gin.Context) {
	configured := s.sessions != nil && s.sessions.CredentialsConfigured()
	c.JSON(http.StatusOK, gin.H{"configured": configured})
}

// handleSessionSetup stores the initial web credentials. Once configured,
// further setup attempts are rejected; use the login endpoint instead.
func (s *RESTServer) handleSessionSetup(c *gin.Context) {
	if s.sessions == nil {
		respondServiceUnavailable(c, "Session management")
		return
	}

	if s.sessions.CredentialsConfigured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Setup already completed"})
		return
	}

	var req sessionCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 8 characters"})
		return
	}

	if err := s.sessions.SetCredentials(req.Username, req.Password); err != nil {
		respondDatabaseError(c, err)
		return
	}

	// Issue a session right away so the UI does not bounce through login
	token, err := s.sessions.Login(req.Username, req.Password)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, ErrMsgInternalError, err)
		return
	}

	logger.Infof("Web credentials configured for %s", req.Username)
	c.JSON(http.StatusOK, gin.H{
		"message": "Setup complete",
		"token":   token,
	})
}

// handleSessionLogin validates credentials and issues a session token.
func (s *RESTServer) handleSessionLogin(c *gin.Context) {
	if s.sessions == nil {
		respondServiceUnavailable(c, "Session management")
		return
	}

	var req sessionCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	token, err := s.sessions.Login(req.Username, req.Password)
	if err != nil {
		// Same message for unknown user and wrong password
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// handleSessionLogout destroys the presented session token.
func (s *RESTServer) handleSessionLogout(c *gin.Context) {
	if s.sessions == nil {
		respondServiceUnavailable(c, "Session management")
		return
	}

	token := c.GetHeader("X-Session-Token")
	if token == "" {
		token = c.Query("token")
	}
	if token != "" {
		s.sessions.Logout(token)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
