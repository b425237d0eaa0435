// Package github keeps the high-score artifacts in a content repository.
//
// The published record is a JSON file on the base branch. The proposal is
// the same file on a fixed proposal branch, and its review is the pull
// request from that branch into base. The shared branch name serialises
// writers: the blob SHA is the compare-and-swap version. One Store serves
// one slot. Merging and deleting the branch happen on the hosting side.
//
// The branch only counts as a proposal while its pull request is open. A
// branch left behind by a closed pull request is reset to base on the next
// write.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/pkg/logger"
)

const (
	defaultBaseURL        = "https://api.github.com/"
	defaultBaseBranch     = "main"
	defaultProposalBranch = "highscore-update"
	defaultRecordPath     = "_data/highscore.json"

	// versionNoFile marks a proposal branch that exists without the record file.
	versionNoFile = "branch"
	// versionStale marks a proposal branch whose pull request is gone.
	versionStale = "stale"
)

// Store implements arbiter.Store over the GitHub REST API.
type Store struct {
	owner          string
	repo           string
	baseURL        string
	baseBranch     string
	proposalBranch string
	recordPath     string
	httpClient     *http.Client
	client         *gh.Client
	log            logger.Logger
}

// New creates a Store for repository ("owner/name") authenticated with token.
func New(repository, token string, opts ...Option) (*Store, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(repository), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRepository, repository)
	}

	s := &Store{
		owner:          owner,
		repo:           repo,
		baseURL:        defaultBaseURL,
		baseBranch:     defaultBaseBranch,
		proposalBranch: defaultProposalBranch,
		recordPath:     defaultRecordPath,
		httpClient:     &http.Client{},
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	base, err := url.Parse(s.baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, s.baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	s.client = gh.NewClient(s.httpClient).WithAuthToken(token)
	s.client.BaseURL = base
	return s, nil
}

// Resolve implements arbiter.Store.
func (s *Store) Resolve(ctx context.Context, slot string) (arbiter.Snapshot, error) {
	var snap arbiter.Snapshot

	pub, _, err := s.readRecord(ctx, s.baseBranch)
	if err != nil {
		return snap, fmt.Errorf("resolve %s: published: %w", slot, err)
	}
	if pub != nil {
		snap.Published = *pub
	}

	exists, err := s.branchExists(ctx, s.proposalBranch)
	if err != nil {
		return snap, fmt.Errorf("resolve %s: %w", slot, err)
	}
	if !exists {
		return snap, nil
	}

	open, err := s.OpenReview(ctx, slot)
	if err != nil {
		return snap, fmt.Errorf("resolve %s: %w", slot, err)
	}
	if open == nil {
		snap.Version = versionStale
		return snap, nil
	}

	prop, sha, err := s.readRecord(ctx, s.proposalBranch)
	if err != nil {
		return snap, fmt.Errorf("resolve %s: proposal: %w", slot, err)
	}
	if prop == nil {
		snap.Version = versionNoFile
		return snap, nil
	}
	snap.Proposal = prop
	snap.Version = sha
	return snap, nil
}

// WriteProposal implements arbiter.Store.
func (s *Store) WriteProposal(ctx context.Context, slot string, snap arbiter.Snapshot, rec model.Record) error {
	content, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	sha := snap.Version
	switch sha {
	case "":
		if err := s.createBranch(ctx); err != nil {
			return err
		}
	case versionStale:
		if err := s.resetBranch(ctx, slot); err != nil {
			return err
		}
	}
	if sha == "" || sha == versionStale {
		// The fresh branch carries the base file, if any.
		_, sha, err = s.readRecord(ctx, s.proposalBranch)
		if err != nil {
			return fmt.Errorf("read new branch: %w", err)
		}
	}
	if sha == versionNoFile {
		sha = ""
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(fmt.Sprintf("Propose high score %s", rec)),
		Content: content,
		Branch:  gh.String(s.proposalBranch),
	}
	var resp *gh.Response
	if sha == "" {
		_, resp, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, s.recordPath, opts)
	} else {
		opts.SHA = gh.String(sha)
		_, resp, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, s.recordPath, opts)
	}
	if err != nil {
		switch statusOf(resp) {
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return arbiter.ErrConflict
		}
		return fmt.Errorf("write %s on %s: %w", s.recordPath, s.proposalBranch, err)
	}

	s.log.Debug(ctx, "proposal written",
		logger.String("slot", slot),
		logger.String("branch", s.proposalBranch),
		logger.String("record", rec.String()),
	)
	return nil
}

// OpenReview implements arbiter.Store.
func (s *Store) OpenReview(ctx context.Context, slot string) (*arbiter.Review, error) {
	prs, _, err := s.client.PullRequests.List(ctx, s.owner, s.repo, &gh.PullRequestListOptions{
		State: "open",
		Head:  s.owner + ":" + s.proposalBranch,
		Base:  s.baseBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("list reviews %s: %w", slot, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	pr := prs[0]
	return &arbiter.Review{Number: pr.GetNumber(), Title: pr.GetTitle(), URL: pr.GetHTMLURL()}, nil
}

// CreateReview implements arbiter.Store.
func (s *Store) CreateReview(ctx context.Context, slot string, change arbiter.Change) (arbiter.Review, error) {
	pr, resp, err := s.client.PullRequests.Create(ctx, s.owner, s.repo, &gh.NewPullRequest{
		Title: gh.String(change.Title()),
		Head:  gh.String(s.proposalBranch),
		Base:  gh.String(s.baseBranch),
		Body:  gh.String(change.Body()),
	})
	if err != nil {
		if statusOf(resp) == http.StatusUnprocessableEntity {
			return arbiter.Review{}, arbiter.ErrConflict
		}
		return arbiter.Review{}, fmt.Errorf("create review %s: %w", slot, err)
	}
	return arbiter.Review{Number: pr.GetNumber(), Title: pr.GetTitle(), URL: pr.GetHTMLURL()}, nil
}

// CommentReview implements arbiter.Store.
func (s *Store) CommentReview(ctx context.Context, slot string, review arbiter.Review, change arbiter.Change) error {
	_, _, err := s.client.Issues.CreateComment(ctx, s.owner, s.repo, review.Number, &gh.IssueComment{
		Body: gh.String(change.Note()),
	})
	if err != nil {
		return fmt.Errorf("comment review #%d: %w", review.Number, err)
	}

	_, _, err = s.client.PullRequests.Edit(ctx, s.owner, s.repo, review.Number, &gh.PullRequest{
		Title: gh.String(change.Title()),
	})
	if err != nil {
		// The note is already recorded; a stale title is cosmetic.
		s.log.Warn(ctx, "retitle review failed",
			logger.String("slot", slot),
			logger.Int("review", review.Number),
			logger.Error(err),
		)
	}
	return nil
}

func (s *Store) readRecord(ctx context.Context, branch string) (*model.Record, string, error) {
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.recordPath,
		&gh.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if statusOf(resp) == http.StatusNotFound {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("get %s@%s: %w", s.recordPath, branch, err)
	}
	if file == nil {
		return nil, "", fmt.Errorf("%w: %s is a directory", ErrCorruptRecord, s.recordPath)
	}

	raw, err := file.GetContent()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	var rec model.Record
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
	}
	return &rec, file.GetSHA(), nil
}

func (s *Store) branchExists(ctx context.Context, branch string) (bool, error) {
	_, resp, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "refs/heads/"+branch)
	if err != nil {
		if statusOf(resp) == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("get ref %s: %w", branch, err)
	}
	return true, nil
}

func (s *Store) createBranch(ctx context.Context) error {
	base, _, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "refs/heads/"+s.baseBranch)
	if err != nil {
		return fmt.Errorf("get ref %s: %w", s.baseBranch, err)
	}

	_, resp, err := s.client.Git.CreateRef(ctx, s.owner, s.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + s.proposalBranch),
		Object: &gh.GitObject{SHA: base.GetObject().SHA},
	})
	if err != nil {
		if statusOf(resp) == http.StatusUnprocessableEntity {
			return arbiter.ErrConflict
		}
		return fmt.Errorf("create ref %s: %w", s.proposalBranch, err)
	}
	return nil
}

// resetBranch points a leftover proposal branch back at the base head.
func (s *Store) resetBranch(ctx context.Context, slot string) error {
	// A review opened since Resolve means another writer owns the branch.
	open, err := s.OpenReview(ctx, slot)
	if err != nil {
		return err
	}
	if open != nil {
		return arbiter.ErrConflict
	}

	base, _, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "refs/heads/"+s.baseBranch)
	if err != nil {
		return fmt.Errorf("get ref %s: %w", s.baseBranch, err)
	}
	_, resp, err := s.client.Git.UpdateRef(ctx, s.owner, s.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + s.proposalBranch),
		Object: &gh.GitObject{SHA: base.GetObject().SHA},
	}, true)
	if err != nil {
		switch statusOf(resp) {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return arbiter.ErrConflict
		}
		return fmt.Errorf("reset ref %s: %w", s.proposalBranch, err)
	}

	s.log.Debug(ctx, "stale proposal branch reset",
		logger.String("slot", slot),
		logger.String("branch", s.proposalBranch),
	)
	return nil
}

func encodeRecord(rec model.Record) ([]byte, error) {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return append(b, '\n'), nil
}

func statusOf(resp *gh.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
