// Package config loads and validates the process-wide configuration
// described in spec §3/§6, grounded on original_source's
// robocat/config.py pydantic schema and loaded the teacher's way
// (gopkg.in/yaml.v3, internal/config.LoadConfig/SaveConfig style).
// Unknown keys and missing required fields are startup-time errors
// (Design Notes §9: "closed, enumerated schema").
package config

import (
	"bytes"
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// TrackerConfig mirrors the original's JiraConfig.
type TrackerConfig struct {
	URL     string `yaml:"url"`
	Login   string `yaml:"login"`
	Timeout int    `yaml:"timeout"` // seconds, default 10
	Retries int    `yaml:"retries"` // default 3
	// ProjectMapping maps a supported project key to the branch-prefix
	// namespace it participates in; its keys are the "supported issue
	// projects" set referenced throughout spec §3/§4.
	ProjectMapping map[string]string `yaml:"project_mapping"`
	// VersionBranches maps a fixVersion label (as returned by the tracker,
	// e.g. "v5.0") to the repository branch it releases from (e.g.
	// "vms_5.0"). A label with no entry here has no known branch mapping,
	// which the fixVersion-sanity rule treats as a block finding.
	VersionBranches map[string]string `yaml:"version_branches"`
}

func (c TrackerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Login, validation.Required),
	)
}

// SupportedProjects returns the configured supported-project key set.
func (c TrackerConfig) SupportedProjects() map[string]bool {
	out := make(map[string]bool, len(c.ProjectMapping))
	for k := range c.ProjectMapping {
		out[k] = true
	}
	return out
}

// RepoConfig mirrors the original's RepoConfig.
type RepoConfig struct {
	Path                  string `yaml:"path"`
	URL                   string `yaml:"url"`
	Org                   string `yaml:"org"`
	Name                  string `yaml:"name"`
	NeedCodeOwnerApproval bool   `yaml:"need_code_owner_approval"`
}

func (c RepoConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Org, validation.Required),
		validation.Field(&c.Name, validation.Required),
	)
}

// ApprovalRule is one (patterns, approvers) entry. Earlier rules in a
// ruleset win; the Action Planner / ApprovalRule evaluator selects the
// first matching rule against a file's path.
type ApprovalRule struct {
	Patterns  []string `yaml:"patterns"`
	Approvers []string `yaml:"approvers"`
}

// ApprovalRuleset keys a relevance-checker identity to an ordered list of
// approval rules, mirroring ApproveRulesetConfig.
type ApprovalRuleset struct {
	RelevanceChecker string         `yaml:"relevance_checker"`
	Rules            []ApprovalRule `yaml:"rules"`
}

func (c ApprovalRuleset) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.RelevanceChecker, validation.Required),
		validation.Field(&c.Rules, validation.Required),
	)
}

// JobStatusCheckRuleConfig mirrors JobStatusCheckRuleConfig: up to three
// named approval rulesets (open_source, apidoc, code_owner_approval), each
// optional.
type JobStatusCheckRuleConfig struct {
	OpenSource                 *ApprovalRuleset `yaml:"open_source"`
	Apidoc                     *ApprovalRuleset `yaml:"apidoc"`
	CodeOwnerApproval          *ApprovalRuleset `yaml:"code_owner_approval"`
	ExcludedIssueTitlePatterns []string         `yaml:"excluded_issue_title_patterns"`
}

// Rulesets returns the configured rulesets keyed by their config name
// (open_source, apidoc, code_owner_approval) so the Rule Pipeline's
// approval-sufficiency evaluator can iterate them deterministically.
func (c *JobStatusCheckRuleConfig) Rulesets() map[string]ApprovalRuleset {
	out := map[string]ApprovalRuleset{}
	if c == nil {
		return out
	}
	if c.OpenSource != nil {
		out["open_source"] = *c.OpenSource
	}
	if c.Apidoc != nil {
		out["apidoc"] = *c.Apidoc
	}
	if c.CodeOwnerApproval != nil {
		out["code_owner_approval"] = *c.CodeOwnerApproval
	}
	return out
}

// RelatedMergeRequestRule mirrors RelatedMergeRequestRuleConfig, grounding
// the supplemented RelatedProjectsRule (SPEC_FULL §10).
type RelatedMergeRequestRule struct {
	TriggerTitlePattern string   `yaml:"trigger_title_pattern"`
	IssueKeysPattern    string   `yaml:"issue_keys_pattern"`
	RelatedProjects     []string `yaml:"related_projects"`
	Action              string   `yaml:"action"`
}

// ProcessRelatedMergeRequestsRuleConfig mirrors
// ProcessRelatedMergeRequestRuleConfig.
type ProcessRelatedMergeRequestsRuleConfig struct {
	Rules []RelatedMergeRequestRule `yaml:"rules"`
}

// NxSubmoduleCheckRuleConfig mirrors NxSubmoduleCheckRuleConfig.
type NxSubmoduleCheckRuleConfig struct {
	NxSubmoduleDirs []string `yaml:"nx_submodule_dirs"`
}

// PipelineConfig mirrors PipelineConfig.
type PipelineConfig struct {
	AutorunStage string `yaml:"autorun_stage"`
}

// FollowUpRuleConfig, EssentialRuleConfig, WorkflowCheckRuleConfig and
// CommitMessageRuleConfig mirror CommonRuleConfig subclasses that add no
// fields beyond the inherited excluded_issue_title_patterns (plus
// forbidden_terms for commit messages). They only supply those settings;
// which rules run is decided by enabled_rules.
type FollowUpRuleConfig struct {
	ExcludedIssueTitlePatterns []string `yaml:"excluded_issue_title_patterns"`
}

type EssentialRuleConfig struct {
	ExcludedIssueTitlePatterns []string `yaml:"excluded_issue_title_patterns"`
}

type WorkflowCheckRuleConfig struct {
	ExcludedIssueTitlePatterns []string `yaml:"excluded_issue_title_patterns"`
}

type CommitMessageRuleConfig struct {
	ForbiddenTerms             []string `yaml:"forbidden_terms"`
	ExcludedIssueTitlePatterns []string `yaml:"excluded_issue_title_patterns"`
}

// Config is the top-level process configuration, loaded once at startup
// and treated as immutable for the process lifetime.
type Config struct {
	BotHandle string          `yaml:"bot_handle"`
	Jira      TrackerConfig   `yaml:"jira"`
	Repo      RepoConfig      `yaml:"repo"`
	Pipeline  *PipelineConfig `yaml:"pipeline"`

	EnabledRules []string `yaml:"enabled_rules"`

	JobStatusCheckRule              *JobStatusCheckRuleConfig              `yaml:"job_status_check_rule"`
	ProcessRelatedMergeRequestsRule *ProcessRelatedMergeRequestsRuleConfig `yaml:"process_related_merge_requests_rule"`
	NxSubmoduleCheckRule            *NxSubmoduleCheckRuleConfig            `yaml:"nx_submodule_check_rule"`
	FollowUpRule                    *FollowUpRuleConfig                    `yaml:"follow_up_rule"`
	EssentialCheckRule              *EssentialRuleConfig                   `yaml:"essential_check_rule"`
	WorkflowCheckRule               *WorkflowCheckRuleConfig               `yaml:"workflow_check_rule"`
	CommitMessageCheckRule          *CommitMessageRuleConfig               `yaml:"commit_message_check_rule"`

	OpenSourceDirs []string `yaml:"open_source_dirs"`

	Parallelism int `yaml:"parallelism"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BotHandle, validation.Required),
		validation.Field(&c.Jira),
		validation.Field(&c.Repo),
	)
}

// LoadConfig reads and schema-validates a YAML configuration file, in the
// teacher's LoadConfig style (os.ReadFile + yaml.Unmarshal). KnownFields
// forbids unexpected keys so typos are a startup-time error, per Design
// Notes §9's closed-schema decision.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Jira.Timeout == 0 {
		cfg.Jira.Timeout = 10
	}
	if cfg.Jira.Retries == 0 {
		cfg.Jira.Retries = 3
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg back to path, mirroring the teacher's SaveConfig
// (yaml.Marshal + os.WriteFile mode 0600).
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
