// Package auth issues and validates session tokens for participant devices
// and researcher dashboards.
package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the session token payload. UserID is the authenticated identity;
// authorization (creator, researcher grant, binding) is decided per request
// by the services.
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}
