package auth

import "errors"

var (
	ErrNoCredentials          = errors.New("no credentials configured; set remote.api_key or TURNKIT_REMOTE_API_KEY")
	ErrCredentialsInvalidated = errors.New("credentials were rejected by the remote service; replace them to continue")
)
