package tasksapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// TokenProvider returns the OAuth access token for the next request.
type TokenProvider func(ctx context.Context) (string, error)

func StaticToken(token string) TokenProvider {
	token = strings.TrimSpace(token)
	return func(context.Context) (string, error) {
		if token == "" {
			return "", ErrTokenRequired
		}
		return token, nil
	}
}

// FileToken reads the token file on every call so that an external helper
// can refresh it in place. The file holds either a bare token or a JSON
// object with an access_token field.
func FileToken(path string) TokenProvider {
	path = strings.TrimSpace(path)
	return func(context.Context) (string, error) {
		if path == "" {
			return "", ErrTokenRequired
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "{") {
			var stored struct {
				AccessToken string `json:"access_token"`
			}
			if err := json.Unmarshal([]byte(trimmed), &stored); err != nil {
				return "", fmt.Errorf("parse token file: %w", err)
			}
			trimmed = strings.TrimSpace(stored.AccessToken)
		}
		if trimmed == "" {
			return "", ErrTokenRequired
		}
		return trimmed, nil
	}
}
