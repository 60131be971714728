// Package client talks to the quiz server over HTTP. A Client satisfies the
// interfaces the timer, the progress synchronizer, the resolver and the
// attempt launcher depend on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/session"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// IsConflict reports whether err is the server refusing to touch a closed
// session.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

func hasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: strings.TrimSuffix(baseURL, "/"), http: hc}
}

func (c *Client) SetToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Login exchanges credentials for a bearer token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (role string, err error) {
	var out struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &out); err != nil {
		return "", err
	}
	c.SetToken(out.AccessToken)
	return out.Role, nil
}

func (c *Client) CreateSession(ctx context.Context, in session.CreateInput) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/quiz/create-session", in, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *Client) Sync(ctx context.Context, sessionID string) (session.SyncResult, error) {
	var out session.SyncResult
	err := c.do(ctx, http.MethodGet, "/quiz/sync/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

func (c *Client) SaveProgress(ctx context.Context, sessionID string, answers []*string, current int) error {
	in := struct {
		UserAnswers     []*string `json:"userAnswers"`
		CurrentQuestion int       `json:"currentQuestion"`
	}{answers, current}
	return c.do(ctx, http.MethodPost, "/quiz/save-progress/"+url.PathEscape(sessionID), in, nil)
}

// Submit sends answers; nil submits whatever the server saved last.
func (c *Client) Submit(ctx context.Context, sessionID string, answers []*string) (session.Result, error) {
	var in any
	if answers != nil {
		in = map[string]any{"userAnswers": answers}
	}
	var out session.Result
	err := c.do(ctx, http.MethodPost, "/quiz/submit/"+url.PathEscape(sessionID), in, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context, sessionID string) (session.QuizSession, error) {
	var out session.QuizSession
	err := c.do(ctx, http.MethodGet, "/quiz/sessions/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

func (c *Client) ActiveSessions(ctx context.Context, userID string) ([]session.QuizSession, error) {
	return c.ActiveSessionsForTopic(ctx, userID, "")
}

func (c *Client) ActiveSessionsForTopic(ctx context.Context, userID, topic string) ([]session.QuizSession, error) {
	path := "/quiz/active-sessions/" + url.PathEscape(userID)
	if topic != "" {
		path += "?topic=" + url.QueryEscape(topic)
	}
	var out []session.QuizSession
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
