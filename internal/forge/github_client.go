package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/nx/robocat/internal/snapshot"
)

// discussionMarkerPrefix is embedded (invisibly, as an HTML comment) in every
// bot-created discussion's opening comment so ListDiscussions can tell
// bot-owned threads apart from human-opened review comments.
const discussionMarkerPrefix = "<!-- robocat:discussion:"

// GitHubClient implements Client against a single org/repo pair using
// GitHub's PR/issue-comment/check-run vocabulary as a stand-in for the
// GitLab-class forge described in the contract. Every exported method logs
// before the call and wraps the returned error with %w, matching the
// teacher package's internal/github client.
type GitHubClient struct {
	client       *github.Client
	org          string
	repo         string
	handle       string
	limiter      *rate.Limiter
	autorunStage string
}

// NewGitHubClient builds a forge client authenticated with a personal
// access token. limiterPerSecond bounds the client-side request rate so a
// burst of concurrent MR actors cannot exhaust the shared token's budget.
// autorunStage is the configured pipeline stage whose jobs always run
// automatically (spec glossary, "Autorun stage"); check runs named
// "<autorunStage>/<job>" are reported separately from jobs genuinely
// waiting on a manual trigger, and are skipped by TriggerManualJobs since
// they need no bot-initiated re-run. Pass "" when the repo has none.
func NewGitHubClient(ctx context.Context, token, org, repo, botHandle, autorunStage string, limiterPerSecond float64) *GitHubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHubClient{
		client:       github.NewClient(tc),
		org:          org,
		repo:         repo,
		handle:       botHandle,
		limiter:      rate.NewLimiter(rate.Limit(limiterPerSecond), int(limiterPerSecond)+1),
		autorunStage: autorunStage,
	}
}

// isAutorunJob reports whether a check run name belongs to the configured
// autorun stage, by the same "<stage>/<job>" naming convention the forge-side
// pipeline-stage vocabulary uses elsewhere in this client.
func (c *GitHubClient) isAutorunJob(name string) bool {
	return c.autorunStage != "" && strings.HasPrefix(name, c.autorunStage+"/")
}

// WithHTTPClient overrides the underlying HTTP client, used by tests to
// point the client at an httptest server.
func (c *GitHubClient) WithHTTPClient(hc *http.Client, baseURL string) *GitHubClient {
	gc, err := github.NewClient(hc).WithEnterpriseURLs(baseURL, baseURL)
	if err == nil {
		c.client = gc
	}
	return c
}

func (c *GitHubClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if rl, ok := err.(*github.RateLimitError); ok {
		return &TransientError{Err: rl}
	}
	if ae, ok := err.(*github.AbuseRateLimitError); ok {
		return &TransientError{Err: ae}
	}
	if ge, ok := err.(*github.ErrorResponse); ok {
		if ge.Response != nil && ge.Response.StatusCode >= 500 {
			return &TransientError{Err: ge}
		}
		if ge.Response != nil && ge.Response.StatusCode >= 400 && ge.Response.StatusCode != 404 {
			return &PermanentError{Err: ge}
		}
	}
	return err
}

func (c *GitHubClient) GetMR(ctx context.Context, id int) (*MR, error) {
	slog.Debug("forge: get MR", "org", c.org, "repo", c.repo, "mr", id)
	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to get MR %d: %w", id, err)
	}

	pr, _, err := c.client.PullRequests.Get(ctx, c.org, c.repo, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get MR %d: %w", id, classify(err))
	}

	commits, err := c.listCommits(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits for MR %d: %w", id, err)
	}

	files, err := c.listChangedFiles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed files for MR %d: %w", id, err)
	}

	reviews, _, err := c.client.PullRequests.ListReviews(ctx, c.org, c.repo, id, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals for MR %d: %w", id, classify(err))
	}
	var approvals []string
	for _, r := range reviews {
		if r.GetState() == "APPROVED" {
			approvals = append(approvals, r.GetUser().GetLogin())
		}
	}

	var assignees []string
	for _, a := range pr.Assignees {
		assignees = append(assignees, a.GetLogin())
	}

	pipeline, err := c.getPipeline(ctx, pr.GetHead().GetSHA())
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline for MR %d: %w", id, err)
	}

	mergeable := snapshot.MergeableUnknown
	if pr.Mergeable != nil {
		if *pr.Mergeable {
			mergeable = snapshot.MergeableOK
		} else {
			mergeable = snapshot.MergeableConflicts
		}
	}

	return &MR{
		ID:           pr.GetNumber(),
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		Author:       pr.GetUser().GetLogin(),
		Draft:        pr.GetDraft(),
		Mergeable:    mergeable,
		Assignees:    assignees,
		Approvals:    approvals,
		Commits:      commits,
		ChangedFiles: files,
		Pipeline:     pipeline,
		Merged:       pr.GetMerged(),
		MergedAt:     pr.GetMergedAt().Time,
		MergeSHA:     pr.GetMergeCommitSHA(),
	}, nil
}

func (c *GitHubClient) listCommits(ctx context.Context, mrID int) ([]snapshot.Commit, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []snapshot.Commit
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := c.client.PullRequests.ListCommits(ctx, c.org, c.repo, mrID, opts)
		if err != nil {
			return nil, classify(err)
		}
		for _, commit := range commits {
			var parents []string
			for _, p := range commit.Parents {
				parents = append(parents, p.GetSHA())
			}
			out = append(out, snapshot.Commit{
				SHA:        commit.GetSHA(),
				Message:    commit.GetCommit().GetMessage(),
				ParentSHAs: parents,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *GitHubClient) listChangedFiles(ctx context.Context, mrID int) ([]snapshot.ChangedFile, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []snapshot.ChangedFile
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		files, resp, err := c.client.PullRequests.ListFiles(ctx, c.org, c.repo, mrID, opts)
		if err != nil {
			return nil, classify(err)
		}
		for _, f := range files {
			out = append(out, snapshot.ChangedFile{
				Path:    f.GetFilename(),
				Deleted: f.GetStatus() == "removed",
				Patch:   f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// getPipeline aggregates combined status and check runs into one pipeline
// view, the same DCO-aware priority order (pending > failing > passing) the
// teacher's CIStatusChecker uses, generalized to also report manual-pending
// jobs by name so the planner can decide which to trigger.
func (c *GitHubClient) getPipeline(ctx context.Context, sha string) (snapshot.Pipeline, error) {
	if sha == "" {
		return snapshot.Pipeline{Status: snapshot.PipelineNone}, nil
	}
	if err := c.wait(ctx); err != nil {
		return snapshot.Pipeline{}, err
	}
	status, _, err := c.client.Repositories.GetCombinedStatus(ctx, c.org, c.repo, sha, nil)
	if err != nil {
		return snapshot.Pipeline{}, classify(err)
	}

	if err := c.wait(ctx); err != nil {
		return snapshot.Pipeline{}, err
	}
	checkRuns, _, err := c.client.Checks.ListCheckRunsForRef(ctx, c.org, c.repo, sha, nil)
	if err != nil {
		return snapshot.Pipeline{}, classify(err)
	}

	hasFailure, hasPending, hasSuccess := false, false, false
	for _, s := range status.Statuses {
		switch s.GetState() {
		case "success":
			hasSuccess = true
		case "failure", "error":
			hasFailure = true
		case "pending":
			hasPending = true
		}
	}

	var manualJobs, autorunJobs []string
	for _, run := range checkRuns.CheckRuns {
		switch run.GetStatus() {
		case "queued", "in_progress":
			hasPending = true
		case "completed":
			if run.GetConclusion() == "failure" || run.GetConclusion() == "cancelled" || run.GetConclusion() == "timed_out" {
				hasFailure = true
			} else if run.GetConclusion() == "action_required" {
				if c.isAutorunJob(run.GetName()) {
					// Autorun-stage jobs report action_required the same
					// way genuinely manual ones do, but the stage runs them
					// automatically — treat that as still in flight rather
					// than waiting on the bot.
					autorunJobs = append(autorunJobs, run.GetName())
					hasPending = true
				} else {
					manualJobs = append(manualJobs, run.GetName())
				}
			} else {
				hasSuccess = true
			}
		}
	}

	pipelineStatus := snapshot.PipelineNone
	switch {
	case len(manualJobs) > 0 && !hasFailure && !hasPending:
		pipelineStatus = snapshot.PipelineManualPending
	case hasPending:
		pipelineStatus = snapshot.PipelineRunning
	case hasFailure:
		pipelineStatus = snapshot.PipelineFailed
	case hasSuccess:
		pipelineStatus = snapshot.PipelineSuccess
	}

	return snapshot.Pipeline{
		ID:               sha,
		Status:           pipelineStatus,
		ManualJobs:       manualJobs,
		AutorunStageJobs: autorunJobs,
	}, nil
}

func (c *GitHubClient) ListNotes(ctx context.Context, mrID int) ([]Note, error) {
	slog.Debug("forge: list notes", "org", c.org, "repo", c.repo, "mr", mrID)
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var out []Note
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		comments, resp, err := c.client.Issues.ListComments(ctx, c.org, c.repo, mrID, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for MR %d: %w", mrID, classify(err))
		}
		for _, cm := range comments {
			out = append(out, Note{
				ID:        cm.GetID(),
				Author:    cm.GetUser().GetLogin(),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *GitHubClient) PostNote(ctx context.Context, mrID int, body string) error {
	slog.Debug("forge: post note", "org", c.org, "repo", c.repo, "mr", mrID)
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("failed to post note on MR %d: %w", mrID, err)
	}
	_, _, err := c.client.Issues.CreateComment(ctx, c.org, c.repo, mrID, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("failed to post note on MR %d: %w", mrID, classify(err))
	}
	return nil
}

func (c *GitHubClient) CreateDiscussion(ctx context.Context, mrID int, body string) (Discussion, error) {
	slog.Debug("forge: create discussion", "org", c.org, "repo", c.repo, "mr", mrID)
	if err := c.wait(ctx); err != nil {
		return Discussion{}, fmt.Errorf("failed to create discussion on MR %d: %w", mrID, err)
	}
	comment, _, err := c.client.Issues.CreateComment(ctx, c.org, c.repo, mrID, &github.IssueComment{Body: &body})
	if err != nil {
		return Discussion{}, fmt.Errorf("failed to create discussion on MR %d: %w", mrID, classify(err))
	}
	return Discussion{ID: fmt.Sprintf("%d", comment.GetID()), Body: body, Resolved: false}, nil
}

func (c *GitHubClient) ResolveDiscussion(ctx context.Context, mrID int, discussionID string) error {
	slog.Debug("forge: resolve discussion", "org", c.org, "repo", c.repo, "mr", mrID, "discussion", discussionID)
	resolvedBody := "_resolved by " + c.handle + "_"
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("failed to resolve discussion %s on MR %d: %w", discussionID, mrID, err)
	}
	_, _, err := c.client.Issues.CreateComment(ctx, c.org, c.repo, mrID, &github.IssueComment{Body: &resolvedBody})
	if err != nil {
		return fmt.Errorf("failed to resolve discussion %s on MR %d: %w", discussionID, mrID, classify(err))
	}
	return nil
}

// ListDiscussions returns the bot-owned discussion threads on this MR,
// recognized by the invisible marker this client stamps into every
// discussion it creates.
func (c *GitHubClient) ListDiscussions(ctx context.Context, mrID int) ([]Discussion, error) {
	notes, err := c.ListNotes(ctx, mrID)
	if err != nil {
		return nil, err
	}
	resolved := map[string]bool{}
	open := map[string]Discussion{}
	for _, n := range notes {
		idx := strings.Index(n.Body, discussionMarkerPrefix)
		if idx < 0 {
			continue
		}
		rest := n.Body[idx+len(discussionMarkerPrefix):]
		end := strings.Index(rest, "-->")
		if end < 0 {
			continue
		}
		fp := rest[:end]
		if strings.HasPrefix(n.Body, "_resolved by") {
			resolved[fp] = true
			continue
		}
		open[fp] = Discussion{ID: fmt.Sprintf("%d", n.ID), Body: n.Body, Resolved: false}
	}
	var out []Discussion
	for fp, d := range open {
		d.Resolved = resolved[fp]
		_ = fp
		out = append(out, d)
	}
	return out, nil
}

func (c *GitHubClient) AddAssignees(ctx context.Context, mrID int, logins []string) error {
	slog.Debug("forge: add assignees", "org", c.org, "repo", c.repo, "mr", mrID, "logins", logins)
	if len(logins) == 0 {
		return nil
	}
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("failed to add assignees to MR %d: %w", mrID, err)
	}
	_, _, err := c.client.Issues.AddAssignees(ctx, c.org, c.repo, mrID, logins)
	if err != nil {
		return fmt.Errorf("failed to add assignees to MR %d: %w", mrID, classify(err))
	}
	return nil
}

// TriggerManualJobs re-runs check runs currently waiting for a manual
// trigger, skipping any whose name ends in excludeSuffix (the `:no-bot-start`
// convention, matched case-sensitively per the literal phrasing of the
// convention) or belongs to the configured autorun stage — those jobs run on
// their own and re-requesting them would just race the stage's own trigger.
func (c *GitHubClient) TriggerManualJobs(ctx context.Context, mrID int, excludeSuffix string) error {
	slog.Debug("forge: trigger manual jobs", "org", c.org, "repo", c.repo, "mr", mrID)
	pr, _, err := c.client.PullRequests.Get(ctx, c.org, c.repo, mrID)
	if err != nil {
		return fmt.Errorf("failed to get MR %d for pipeline trigger: %w", mrID, classify(err))
	}
	sha := pr.GetHead().GetSHA()

	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("failed to list check runs for MR %d: %w", mrID, err)
	}
	checkRuns, _, err := c.client.Checks.ListCheckRunsForRef(ctx, c.org, c.repo, sha, nil)
	if err != nil {
		return fmt.Errorf("failed to list check runs for MR %d: %w", mrID, classify(err))
	}

	for _, run := range checkRuns.CheckRuns {
		if run.GetConclusion() != "action_required" {
			continue
		}
		if excludeSuffix != "" && strings.HasSuffix(run.GetName(), excludeSuffix) {
			continue
		}
		if c.isAutorunJob(run.GetName()) {
			continue
		}
		if err := c.wait(ctx); err != nil {
			return err
		}
		if _, err := c.client.Checks.ReRequestCheckRun(ctx, c.org, c.repo, run.GetID()); err != nil {
			return fmt.Errorf("failed to trigger job %q on MR %d: %w", run.GetName(), mrID, classify(err))
		}
	}
	return nil
}

func (c *GitHubClient) BranchHeadSHA(ctx context.Context, branch string) (string, error) {
	slog.Debug("forge: branch head", "org", c.org, "repo", c.repo, "branch", branch)
	if err := c.wait(ctx); err != nil {
		return "", fmt.Errorf("failed to resolve head of %s: %w", branch, err)
	}
	ref, _, err := c.client.Git.GetRef(ctx, c.org, c.repo, "refs/heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("failed to resolve head of %s: %w", branch, classify(err))
	}
	return ref.GetObject().GetSHA(), nil
}

func (c *GitHubClient) Merge(ctx context.Context, mrID int, message string) error {
	slog.Debug("forge: merge", "org", c.org, "repo", c.repo, "mr", mrID)
	pr, _, err := c.client.PullRequests.Get(ctx, c.org, c.repo, mrID)
	if err != nil {
		return fmt.Errorf("failed to get MR %d before merge: %w", mrID, classify(err))
	}
	if pr.Mergeable != nil && !*pr.Mergeable {
		return fmt.Errorf("MR %d is not mergeable (conflicts may exist)", mrID)
	}

	lines := strings.SplitN(message, "\n\n", 2)
	title := lines[0]
	body := ""
	if len(lines) > 1 {
		body = lines[1]
	}

	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("failed to merge MR %d: %w", mrID, err)
	}
	result, _, err := c.client.PullRequests.Merge(ctx, c.org, c.repo, mrID, body, &github.PullRequestOptions{
		CommitTitle: title,
		MergeMethod: "squash",
	})
	if err != nil {
		return fmt.Errorf("failed to merge MR %d: %w", mrID, classify(err))
	}
	if !result.GetMerged() {
		return fmt.Errorf("MR %d merge was not successful: %s", mrID, result.GetMessage())
	}
	return nil
}

func (c *GitHubClient) CreateMR(ctx context.Context, title, body, sourceBranch, targetBranch string, draft bool) (int, error) {
	slog.Debug("forge: create MR", "org", c.org, "repo", c.repo, "source", sourceBranch, "target", targetBranch)
	if err := c.wait(ctx); err != nil {
		return 0, fmt.Errorf("failed to create MR %s -> %s: %w", sourceBranch, targetBranch, err)
	}
	pr, _, err := c.client.PullRequests.Create(ctx, c.org, c.repo, &github.NewPullRequest{
		Title: &title,
		Body:  &body,
		Head:  &sourceBranch,
		Base:  &targetBranch,
		Draft: &draft,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create MR %s -> %s: %w", sourceBranch, targetBranch, classify(err))
	}
	return pr.GetNumber(), nil
}

// ForcePush is a no-op at the forge-client layer: the actual push happens
// through internal/gitworkspace's git subprocess. This method exists on the
// interface so fake implementations used in tests can assert it was called
// without the engine needing to know which layer performs it.
func (c *GitHubClient) ForcePush(ctx context.Context, localRef, remoteBranch string) error {
	return nil
}

// AddReaction marks the MR's opening issue comment with content (GitHub's
// reaction vocabulary standing in for GitLab's award emoji, used by
// internal/followup to mark MRs as already followed-up per spec §10).
func (c *GitHubClient) AddReaction(ctx context.Context, mrID int, content string) error {
	slog.Debug("forge: add reaction", "org", c.org, "repo", c.repo, "mr", mrID, "content", content)
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("failed to react to MR %d: %w", mrID, err)
	}
	_, _, err := c.client.Reactions.CreateIssueReaction(ctx, c.org, c.repo, mrID, content)
	if err != nil {
		return fmt.Errorf("failed to react to MR %d: %w", mrID, classify(err))
	}
	return nil
}

// HasReaction reports whether the bot's own handle has already reacted to
// mrID with content, paging through GitHub's reaction list the same way
// the original's AwardEmojiManager.find(name, own=True) filters its cached
// list by current_user.
func (c *GitHubClient) HasReaction(ctx context.Context, mrID int, content string) (bool, error) {
	slog.Debug("forge: has reaction", "org", c.org, "repo", c.repo, "mr", mrID, "content", content)
	if err := c.wait(ctx); err != nil {
		return false, fmt.Errorf("failed to list reactions on MR %d: %w", mrID, err)
	}
	opts := &github.ListOptions{PerPage: 100}
	for {
		reactions, resp, err := c.client.Reactions.ListIssueReactions(ctx, c.org, c.repo, mrID, opts)
		if err != nil {
			return false, fmt.Errorf("failed to list reactions on MR %d: %w", mrID, classify(err))
		}
		for _, r := range reactions {
			if r.GetContent() == content && r.GetUser().GetLogin() == c.handle {
				return true, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return false, nil
}

var _ Client = (*GitHubClient)(nil)

func discussionBody(fingerprint, message, identity string) string {
	return fmt.Sprintf("%s%s -->\n\n%s\n\n_%s_", discussionMarkerPrefix, fingerprint, message, identity)
}

// DiscussionBody is exported so internal/action can construct a discussion
// body carrying this client's fingerprint marker without internal/action
// needing to know the marker format.
func DiscussionBody(fingerprint, message, identity string) string {
	return discussionBody(fingerprint, message, identity)
}
