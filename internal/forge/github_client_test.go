package forge

import (
	"context"
	"testing"
)

func TestNewGitHubClient(t *testing.T) {
	ctx := context.Background()
	c := NewGitHubClient(ctx, "test-token", "nx", "robocat", "robocat-bot", "verify", 5.0)

	if c == nil {
		t.Fatal("NewGitHubClient() returned nil")
	}
	if c.client == nil {
		t.Error("NewGitHubClient() client field is nil")
	}
	if c.org != "nx" || c.repo != "robocat" || c.handle != "robocat-bot" {
		t.Error("NewGitHubClient() did not set org/repo/handle correctly")
	}
	if c.autorunStage != "verify" {
		t.Error("NewGitHubClient() did not set autorunStage correctly")
	}
}

func TestIsAutorunJob(t *testing.T) {
	c := &GitHubClient{autorunStage: "verify"}

	if !c.isAutorunJob("verify/lint") {
		t.Error("expected verify/lint to be an autorun job")
	}
	if c.isAutorunJob("deploy/publish") {
		t.Error("deploy/publish should not match the verify autorun stage")
	}

	empty := &GitHubClient{}
	if empty.isAutorunJob("verify/lint") {
		t.Error("empty autorunStage should never classify a job as autorun")
	}
}
