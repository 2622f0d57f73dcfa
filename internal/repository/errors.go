package repository

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNoPostIDs    = errors.New("no post ids given")
)
