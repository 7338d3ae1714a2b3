package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims are the verified session claims attached to a request.
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	TimeZone string `json:"timezone,omitempty"`
	Locale   string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

// CalendarSession identifies the acting user for one calendar operation.
type CalendarSession struct {
	UserID   string `json:"user_id"`
	TimeZone string `json:"timezone,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

// SessionFromClaims derives the calendar session from verified claims.
func SessionFromClaims(claims *JWTClaims) CalendarSession {
	return CalendarSession{
		UserID:   claims.UserID,
		TimeZone: claims.TimeZone,
		Locale:   claims.Locale,
	}
}
