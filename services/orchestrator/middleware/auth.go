// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the analysis core.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates the HMAC-signed JWT, and stores the subject in the
// Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► validator.Validate(token)
//	   │
//	   └─► Store user id in context
//	           │
//	           ▼
//	       Handler (retrieves via GetUserID)
//
// Websocket upgrades carry the token as a "token" query parameter
// instead; the websocket handler validates it through the same
// TokenValidator before entering the frame loop.
//
// # Local Mode
//
// With an empty signing secret the validator accepts every request as
// "local-analyst". This keeps single-user deployments free of identity
// infrastructure.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// userIDKey is the context key for the authenticated subject.
// A typed constant prevents collisions with other context values.
const userIDKey = "aegi_user_id"

// localUser is the identity assumed when no signing secret is set.
const localUser = "local-analyst"

// SetUserID stores the authenticated subject in the Gin context.
func SetUserID(c *gin.Context, userID string) {
	c.Set(userIDKey, userID)
}

// GetUserID retrieves the authenticated subject, or "" when the request
// was not authenticated.
func GetUserID(c *gin.Context) string {
	if v, exists := c.Get(userIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// TokenValidator checks HMAC-signed bearer tokens.
//
// # Description
//
// Tokens are JWTs signed with HS256. The subject claim names the user;
// expiry is honored when present. An empty secret disables verification
// entirely (local mode).
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate parses and verifies a token, returning the subject.
func (v *TokenValidator) Validate(token string) (string, error) {
	if len(v.secret) == 0 {
		return localUser, nil
	}
	if token == "" {
		return "", fmt.Errorf("missing token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// Issue signs a token for the given user. Used by the CLI login path
// and by tests; production deployments normally mint tokens in their
// identity provider.
func (v *TokenValidator) Issue(userID string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("cannot issue tokens without a signing secret")
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// AuthMiddleware authenticates REST requests.
//
// On failure it aborts with 401 and the shared error body shape
// {error_code, message, details}.
func AuthMiddleware(validator *TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := validator.Validate(extractBearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, contracts.NewProblem(
				contracts.CodePolicyDenied, "invalid or missing bearer token", nil))
			return
		}
		SetUserID(c, userID)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The
// scheme is case-insensitive per RFC 7235; a missing or malformed
// header yields "".
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
