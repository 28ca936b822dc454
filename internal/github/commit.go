package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	awerrs "github.com/jdholdren/awesync/internal/errors"
)

// File is one file to write in a commit.
type File struct {
	Path    string
	Content string
}

// Commit is a published commit.
type Commit struct {
	SHA string `json:"sha"`
	URL string `json:"url"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// CommitFiles writes files to branch as a single commit on top of its current
// head. Nothing is visible until the final ref update. If the branch moved in
// the meantime the update is rejected with ErrConflict.
func (c *Client) CommitFiles(ctx context.Context, repo Repo, branch, message string, files []File) (Commit, error) {
	if len(files) == 0 {
		return Commit{}, errors.New("no files to commit")
	}

	headSHA, err := c.refSHA(ctx, repo, branch)
	if err != nil {
		return Commit{}, fmt.Errorf("error fetching ref for %s: %w", branch, err)
	}

	var head struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.do(ctx, http.MethodGet, repo.path()+"/git/commits/"+headSHA, nil, &head); err != nil {
		return Commit{}, fmt.Errorf("error fetching commit %s: %w", headSHA, err)
	}

	entries := make([]treeEntry, 0, len(files))
	for _, f := range files {
		var blob struct {
			SHA string `json:"sha"`
		}
		req := map[string]string{"content": f.Content, "encoding": "utf-8"}
		if err := c.do(ctx, http.MethodPost, repo.path()+"/git/blobs", req, &blob); err != nil {
			return Commit{}, fmt.Errorf("error creating blob for %s: %w", f.Path, err)
		}
		entries = append(entries, treeEntry{Path: f.Path, Mode: "100644", Type: "blob", SHA: blob.SHA})
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	treeReq := map[string]any{"base_tree": head.Tree.SHA, "tree": entries}
	if err := c.do(ctx, http.MethodPost, repo.path()+"/git/trees", treeReq, &tree); err != nil {
		return Commit{}, fmt.Errorf("error creating tree: %w", err)
	}

	var created struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	}
	commitReq := map[string]any{"message": message, "tree": tree.SHA, "parents": []string{headSHA}}
	if err := c.do(ctx, http.MethodPost, repo.path()+"/git/commits", commitReq, &created); err != nil {
		return Commit{}, fmt.Errorf("error creating commit: %w", err)
	}

	refReq := map[string]any{"sha": created.SHA, "force": false}
	if err := c.do(ctx, http.MethodPatch, repo.path()+"/git/refs/heads/"+escapePath(branch), refReq, nil); err != nil {
		// GitHub reports a non fast-forward update as 422.
		if awerrs.StatusOf(err) == http.StatusUnprocessableEntity {
			err = awerrs.E(http.StatusConflict, fmt.Errorf("%s: %w", err, ErrConflict))
		}
		return Commit{}, fmt.Errorf("error updating %s: %w", branch, err)
	}

	return Commit{SHA: created.SHA, URL: created.HTMLURL}, nil
}
