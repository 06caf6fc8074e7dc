package dto

import "time"

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
}

type CheckAuthResponse struct {
	Authenticated bool      `json:"authenticated"`
	Username      string    `json:"username"`
	ExpiresAt     time.Time `json:"expires_at"`
}
