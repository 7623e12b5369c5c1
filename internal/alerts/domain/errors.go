package alerts

import "errors"

var (
	ErrNotFound    = errors.New("alerts: not found")
	ErrAlreadySent = errors.New("alerts: already sent")
)
