package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	awerrs "github.com/jdholdren/awesync/internal/errors"
)

// Attempts made on the branch the repository reports as its default.
const reportedBranchAttempts = 3

var fallbackBranches = []string{"main", "master"}

// BranchAttempt is one failed ref lookup. Status is 0 when no response arrived.
type BranchAttempt struct {
	Branch string
	Status int
	Err    error
}

// BranchResolutionError lists every failure seen while looking for a usable
// branch.
type BranchResolutionError struct {
	Repo        string
	MetadataErr error
	Attempts    []BranchAttempt
}

func (e *BranchResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "could not resolve a branch for %s", e.Repo)
	if e.MetadataErr != nil {
		fmt.Fprintf(&b, "; repository metadata: %s", e.MetadataErr)
	}
	for _, a := range e.Attempts {
		if a.Status == 0 {
			fmt.Fprintf(&b, "; %s: %s", a.Branch, a.Err)
			continue
		}
		fmt.Fprintf(&b, "; %s: status %d", a.Branch, a.Status)
	}
	return b.String()
}

func (e *BranchResolutionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	if e.MetadataErr != nil {
		errs = append(errs, e.MetadataErr)
	}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

type branchCandidate struct {
	name     string
	reported bool
}

// DefaultBranch finds the branch to read from and commit to. The branch named
// in the repository metadata is tried first and retried on server errors;
// main and master are tried once each as fallbacks. The first branch whose
// ref resolves wins.
func (c *Client) DefaultBranch(ctx context.Context, repo Repo) (string, error) {
	resErr := &BranchResolutionError{Repo: repo.String()}

	var reported string
	if meta, err := c.repository(ctx, repo); err != nil {
		resErr.MetadataErr = err
	} else {
		reported = meta.DefaultBranch
	}

	for _, cand := range branchCandidates(reported) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		attempts, err := c.tryBranch(ctx, repo, cand)
		if err == nil {
			return cand.name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("error resolving branch for %s: %w", repo, ctxErr)
		}
		resErr.Attempts = append(resErr.Attempts, attempts...)
	}

	return "", resErr
}

func branchCandidates(reported string) []branchCandidate {
	var cands []branchCandidate
	if reported != "" {
		cands = append(cands, branchCandidate{name: reported, reported: true})
	}
	for _, name := range fallbackBranches {
		if name != reported {
			cands = append(cands, branchCandidate{name: name})
		}
	}
	if reported != "" {
		cands = append(cands, branchCandidate{name: reported, reported: true})
	}
	return cands
}

// tryBranch looks up the branch ref, returning the failed attempts and a nil
// error once it resolves. When ctx ends, during a lookup or a backoff wait,
// the error is ctx's.
func (c *Client) tryBranch(ctx context.Context, repo Repo, cand branchCandidate) ([]BranchAttempt, error) {
	var (
		attempts []BranchAttempt
		n        uint64
	)

	var retries uint64
	if cand.reported {
		retries = reportedBranchAttempts - 1
	}
	backoff := retry.WithMaxRetries(retries, retry.BackoffFunc(func() (time.Duration, bool) {
		return time.Duration(n) * c.backoffStep, false
	}))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		_, err := c.refSHA(ctx, repo, cand.name)
		if err == nil {
			return nil
		}

		status := awerrs.StatusOf(err)
		attempts = append(attempts, BranchAttempt{Branch: cand.name, Status: status, Err: err})
		if !retryableStatus(status) {
			return err
		}

		slog.WarnContext(ctx, "branch lookup failed",
			"repository", repo.String(),
			"branch", cand.name,
			"attempt", n,
			"status", status,
		)
		return retry.RetryableError(err)
	})
	if err != nil && ctx.Err() != nil {
		return attempts, ctx.Err()
	}

	return attempts, err
}

// retryableStatus covers server errors and failures with no response.
func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusInternalServerError || status == http.StatusServiceUnavailable
}

func (c *Client) refSHA(ctx context.Context, repo Repo, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.do(ctx, http.MethodGet, repo.path()+"/git/ref/heads/"+escapePath(branch), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}
