package repository

import "errors"

var (
	// ErrShotNotFound indicates no shot matched the query
	ErrShotNotFound = errors.New("shot not found")

	// ErrInvalidShotID indicates an ID that does not look like YYYY_MM_DD_N
	ErrInvalidShotID = errors.New("invalid shot id")

	// ErrRepositoryUnavailable indicates the repository is closed
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
