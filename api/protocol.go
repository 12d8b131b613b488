package api

import "time"

const (
	maxBodySize = 64 * 1024 // 64 KiB

	HeaderIdempotencyKey = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

// envelope wraps every response body.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// /POST /auth/register and /POST /auth/login request body
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type healthResponse struct {
	Tasks int `json:"tasks"`
	Users int `json:"users"`
}
