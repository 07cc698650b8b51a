// Package directory is the client-side proxy for the identity directory.
// Every lookup is a fresh round-trip; nothing is cached.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrNotFound       = errors.New("directory: not found")
	ErrUsernameTaken  = errors.New("directory: username already taken")
	ErrBadCredentials = errors.New("directory: incorrect password")
)

const defaultTimeout = 10 * time.Second

type (
	Client struct {
		host       string
		httpClient *http.Client
	}

	errorBody struct {
		Error string `json:"error"`
	}
)

func NewClient(host string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) LookupPublicKey(ctx context.Context, username string) (string, error) {
	var out struct {
		PublicKey string `json:"public_key"`
	}
	err := c.get(ctx, "/get_public_key", url.Values{"username": []string{username}}, &out)
	if err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

func (c *Client) Register(ctx context.Context, username, password, publicKey, encryptedPrivateKey string) error {
	body := map[string]string{
		"username":              username,
		"password":              password,
		"public_key":            publicKey,
		"encrypted_private_key": encryptedPrivateKey,
	}
	return c.post(ctx, "/register", body, nil)
}

// Login verifies credentials and returns the stored public key and sealed
// private-key blob.
func (c *Client) Login(ctx context.Context, username, password string) (publicKey, encryptedPrivateKey string, err error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var out struct {
		PublicKey           string `json:"public_key"`
		EncryptedPrivateKey string `json:"encrypted_private_key"`
	}
	if err := c.post(ctx, "/login", body, &out); err != nil {
		return "", "", err
	}
	return out.PublicKey, out.EncryptedPrivateKey, nil
}

func (c *Client) Friends(ctx context.Context, username string) ([]string, error) {
	var out struct {
		Friends []string `json:"friends"`
	}
	err := c.get(ctx, "/get_friends", url.Values{"username": []string{username}}, &out)
	if err != nil {
		return nil, err
	}
	return out.Friends, nil
}

func (c *Client) Groups(ctx context.Context, username string) ([]string, error) {
	var out struct {
		Groups []string `json:"groups"`
	}
	err := c.get(ctx, "/get_groups", url.Values{"username": []string{username}}, &out)
	if err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (c *Client) GroupMembers(ctx context.Context, group string) ([]string, error) {
	var out struct {
		Members []string `json:"members"`
	}
	err := c.get(ctx, "/get_group_members", url.Values{"group_name": []string{group}}, &out)
	if err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (c *Client) CreateGroup(ctx context.Context, name, creator string, members []string) error {
	body := map[string]any{
		"group_name": name,
		"creator":    creator,
		"members":    members,
	}
	return c.post(ctx, "/create_group", body, nil)
}

func (c *Client) AddMember(ctx context.Context, group, username string) error {
	body := map[string]string{
		"group_name": group,
		"username":   username,
	}
	return c.post(ctx, "/add_member", body, nil)
}

func (c *Client) AddFriend(ctx context.Context, user, friend string) error {
	body := map[string]string{
		"user":   user,
		"friend": friend,
	}
	return c.post(ctx, "/add_friend", body, nil)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := url.URL{
		Scheme:   "http",
		Host:     c.host,
		Path:     path,
		RawQuery: params.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   path,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return c.asError(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// asError maps directory status codes onto the client error taxonomy,
// keeping the server's own message where there is no sentinel.
func (c *Client) asError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case body.Error == "User already exists":
		return ErrUsernameTaken
	case body.Error == "Incorrect password":
		return ErrBadCredentials
	case body.Error != "":
		return fmt.Errorf("directory: %s", body.Error)
	default:
		return fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
	}
}
