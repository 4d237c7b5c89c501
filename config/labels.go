package config

import "strconv"

// Option is a value/label pair shown in dashboard filters.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// VCSProviders lists the supported version control providers.
func (c *Config) VCSProviders() ([]Option, error) {
	return c.options([][2]Key{
		{AzureDevOpsVal, AzureDevOpsLabel},
		{BitbucketVal, BitbucketLabel},
		{GithubPublicVal, GithubPublicLabel},
	})
}

// FindingStatuses lists the audit statuses a finding can take, in triage order.
func (c *Config) FindingStatuses() ([]Option, error) {
	return c.options([][2]Key{
		{NotAnalyzedStatusVal, NotAnalyzedStatusLabel},
		{UnderReviewStatusVal, UnderReviewStatusLabel},
		{ClarificationRequiredStatusVal, ClarificationRequiredStatusLabel},
		{TruePositiveStatusVal, TruePositiveStatusLabel},
		{FalsePositiveStatusVal, FalsePositiveStatusLabel},
	})
}

func (c *Config) options(pairs [][2]Key) ([]Option, error) {
	out := make([]Option, 0, len(pairs))
	for _, p := range pairs {
		v, err := c.Value(p[0])
		if err != nil {
			return nil, err
		}
		l, err := c.Value(p[1])
		if err != nil {
			return nil, err
		}
		out = append(out, Option{Value: v, Label: l})
	}
	return out, nil
}

// UIConfig is the subset of configuration the single-page application reads
// at startup.
type UIConfig struct {
	AuthenticationRequired bool     `json:"authenticationRequired"`
	LoginPageMessage       string   `json:"loginPageMessage,omitempty"`
	DefaultPageSize        int      `json:"defaultPageSize"`
	SkipRecords            int      `json:"skipRecords"`
	LimitRecords           int      `json:"limitRecords"`
	VCSProviders           []Option `json:"vcsProviders"`
	FindingStatuses        []Option `json:"findingStatuses"`
}

// UIConfig assembles the values exported to the browser. Secrets and SSO
// endpoints are not part of it.
func (c *Config) UIConfig() (*UIConfig, error) {
	authRequired, err := c.AuthenticationRequired()
	if err != nil {
		return nil, err
	}
	ui := &UIConfig{AuthenticationRequired: authRequired}

	if authRequired {
		if ui.LoginPageMessage, err = c.Value(SSOLoginPageMessage); err != nil {
			return nil, err
		}
	}
	for key, dst := range map[Key]*int{
		DefaultPageSize: &ui.DefaultPageSize,
		SkipRecords:     &ui.SkipRecords,
		LimitRecords:    &ui.LimitRecords,
	} {
		if *dst, err = c.intValue(key); err != nil {
			return nil, err
		}
	}
	if ui.VCSProviders, err = c.VCSProviders(); err != nil {
		return nil, err
	}
	if ui.FindingStatuses, err = c.FindingStatuses(); err != nil {
		return nil, err
	}
	return ui, nil
}

func (c *Config) intValue(key Key) (int, error) {
	v, err := c.Value(key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}
