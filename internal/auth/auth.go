// Package auth defines the token handshake exchanged right after a socket
// opens, and loads tokens from configuration.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
)

// Frame types used by the handshake.
const (
	TypeRequest  = "auth"
	TypeResponse = "auth_response"
)

// Request is sent by the client once the socket is open.
type Request struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
}

// NewRequest builds an auth request frame.
func NewRequest(token, clientID string) Request {
	return Request{Type: TypeRequest, Token: token, ClientID: clientID}
}

// Response is the server verdict. A response without success=true is a
// rejection.
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ParseResponse decodes an auth_response frame.
func ParseResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode auth response: %w", err)
	}
	if resp.Type != TypeResponse {
		return Response{}, fmt.Errorf("unexpected frame type %q", resp.Type)
	}
	return resp, nil
}

// Reason returns a human readable rejection reason.
func (r Response) Reason() string {
	if r.Error != "" {
		return r.Error
	}
	if r.Success {
		return ""
	}
	return "rejected by server"
}

// LoadToken resolves the auth token. A non-empty path wins over the literal
// value; the file content is trimmed of surrounding whitespace.
func LoadToken(value, path string) (string, error) {
	if path == "" {
		return value, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.New("token file is empty")
	}
	return token, nil
}
