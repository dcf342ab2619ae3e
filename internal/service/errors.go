package service

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidInviteCode = errors.New("invalid or expired invite code")
	ErrInternalServer    = errors.New("internal server error")
)
