package service

import "errors"

var (
	ErrDuplicateCredentials = errors.New("credentials taken")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotVerified          = errors.New("email not verified")
	ErrInvalidCredentials   = errors.New("credentials incorrect")
	ErrInvalidToken         = errors.New("invalid refresh token")
	ErrWrongOldPassword     = errors.New("old password incorrect")
	ErrSamePassword         = errors.New("new password cannot be the same as the old password")
)
