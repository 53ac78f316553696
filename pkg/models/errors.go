package models

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNotSender            = errors.New("editor is not the message sender")
	ErrThreadTooDeep        = errors.New("thread exceeds maximum nesting depth")
)
