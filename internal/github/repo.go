package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrInvalidRepository = errors.New("invalid repository reference")

// Repo identifies a repository by owner and name.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

func (r Repo) path() string {
	return "/repos/" + url.PathEscape(r.Owner) + "/" + url.PathEscape(r.Name)
}

// ParseRepo accepts "https://host/{owner}/{repo}" (optionally ending in .git)
// and "{owner}/{repo}".
func ParseRepo(ref string) (Repo, error) {
	s := strings.TrimSpace(ref)
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		if u.Host == "" {
			return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepository, ref)
		}
		s = u.Path
	}
	s = strings.TrimSuffix(strings.Trim(s, "/"), ".git")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepository, ref)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

type repository struct {
	DefaultBranch string `json:"default_branch"`
	Permissions   struct {
		Admin    bool `json:"admin"`
		Maintain bool `json:"maintain"`
		Push     bool `json:"push"`
	} `json:"permissions"`
}

func (c *Client) repository(ctx context.Context, repo Repo) (repository, error) {
	var r repository
	if err := c.do(ctx, http.MethodGet, repo.path(), nil, &r); err != nil {
		return repository{}, err
	}
	return r, nil
}

// HasWriteAccess reports whether the token can push to repo.
func (c *Client) HasWriteAccess(ctx context.Context, repo Repo) (bool, error) {
	r, err := c.repository(ctx, repo)
	if err != nil {
		return false, fmt.Errorf("error fetching repository %s: %w", repo, err)
	}
	return r.Permissions.Push || r.Permissions.Maintain || r.Permissions.Admin, nil
}

// FetchFile returns the contents of path. An empty branch reads the default
// branch.
func (c *Client) FetchFile(ctx context.Context, repo Repo, path, branch string) (string, error) {
	p := repo.path() + "/contents/" + escapePath(strings.TrimPrefix(path, "/"))
	if branch != "" {
		p += "?ref=" + url.QueryEscape(branch)
	}

	var resp struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := c.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return "", fmt.Errorf("error fetching %s from %s: %w", path, repo, err)
	}
	if resp.Type != "" && resp.Type != "file" {
		return "", fmt.Errorf("%s in %s is a %s, not a file", path, repo, resp.Type)
	}
	if resp.Encoding != "base64" {
		return "", fmt.Errorf("unsupported content encoding %q for %s", resp.Encoding, path)
	}

	byts, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("error decoding %s: %w", path, err)
	}
	return string(byts), nil
}

// escapePath escapes each segment of a slash separated path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
