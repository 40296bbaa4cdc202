package jwttoken

import (
	id "permguard/pkg/domain"
	authmw "permguard/pkg/platform/middleware/auth"
)

// JWTServiceAdapter exposes JWTService as the auth middleware's validator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*id.Principal, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	p := claims.Principal()
	return &p, nil
}

var _ authmw.JWTValidator = (*JWTServiceAdapter)(nil)
