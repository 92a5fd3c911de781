package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// 条件付きUPDATEが0件（別の処理が先に状態を変えた）
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDuplicate          = errors.New("duplicate")
)
