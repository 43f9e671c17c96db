package store

import "errors"

var (
	ErrChangeNotFound  = errors.New("change not found")
	ErrCommitNotFound  = errors.New("commit not found")
	ErrEditNotFound    = errors.New("edit not found")
	ErrProjectNotFound = errors.New("project not found")
)
