package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"PhuzzyAudio/core/auth"
	"PhuzzyAudio/logger"
)

type ctxKey string

const usernameKey ctxKey = "username"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler POST /api/auth/login，校验管理员账号后签发令牌
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil || h.cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "login is not configured")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.AdminUsername)) == 1
	passOK := auth.CheckPasswordHash(req.Password, h.cfg.AdminPasswordHash)
	if !userOK || !passOK {
		logger.Warn("登录失败", logger.String("username", req.Username), logger.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := h.signer.GenerateToken(req.Username)
	if err != nil {
		logger.Error("签发令牌失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	logger.Info("管理员登录", logger.String("username", req.Username))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"username":  req.Username,
		"expiresIn": int64(h.cfg.JWTExpiry.Seconds()),
	})
}

// AuthMiddleware 校验 Bearer 令牌。未配置 JWT_SECRET 时不做校验。
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.signer == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// 浏览器的 WebSocket 无法设置请求头
			if t := r.URL.Query().Get("token"); t != "" {
				authHeader = "Bearer " + t
			}
		}
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := h.signer.ParseToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUsernameFromContext extracts the username from the request context
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameKey).(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}
