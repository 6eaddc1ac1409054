package devpod

import (
	"maps"
	"slices"
	"strings"
)

const (
	cmdList   = "list"
	cmdStatus = "status"
	cmdUp     = "up"
	cmdStop   = "stop"
	cmdDelete = "delete"

	flagJSONOutput    = "--output=json"
	flagJSONLogOutput = "--log-output=json"
	flagSkipPro       = "--skip-pro"
	flagDebug         = "--debug"
	flagRecreate      = "--recreate"
	flagReset         = "--reset"
	flagForce         = "--force"

	flagID               = "--id"
	flagSource           = "--source"
	flagIDE              = "--ide"
	flagProvider         = "--provider"
	flagProviderOption   = "--provider-option"
	flagPrebuildRepo     = "--prebuild-repository"
	flagDevcontainerPath = "--devcontainer-path"
	flagDotfiles         = "--dotfiles"
	flagGitSigningKey    = "--git-ssh-signing-key"

	// RawFlagsKey in Config.AdditionalFlags holds a raw flag string that is
	// passed through as is instead of being rendered as key=value.
	RawFlagsKey = "__raw__"
)

// SourceConfig names where a new workspace is created from, e.g.
// Type "git" and Source "https://github.com/org/repo".
type SourceConfig struct {
	Type   string `json:"type" yaml:"type"`
	Source string `json:"source" yaml:"source"`
}

// StartConfig carries the optional inputs of `up`.
type StartConfig struct {
	Source               *SourceConfig     `json:"source,omitempty"`
	IDE                  string            `json:"ide,omitempty"`
	ProviderID           string            `json:"provider,omitempty"`
	ProviderOptions      map[string]string `json:"providerOptions,omitempty"`
	PrebuildRepositories []string          `json:"prebuildRepositories,omitempty"`
	DevcontainerPath     string            `json:"devcontainerPath,omitempty"`
}

func flagArg(flag, value string) string {
	return flag + "=" + value
}

// sortedKeys keeps rendered flags deterministic.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func listArgs(skipPro bool) []string {
	args := []string{cmdList, flagJSONOutput}
	if skipPro {
		args = append(args, flagSkipPro)
	}
	return args
}

func statusArgs(id string) []string {
	return []string{cmdStatus, id, flagJSONOutput}
}

// upArgs renders `up`. When a source is given the workspace is addressed by
// its source and the ID is passed with --id.
func (c *Client) upArgs(id string, sc StartConfig) []string {
	identifier := id
	var args []string
	if sc.Source != nil && sc.Source.Source != "" {
		identifier = sc.Source.Source
		args = append(args, flagArg(flagID, id))
		if sc.Source.Type != "" {
			args = append(args, flagArg(flagSource, sc.Source.Type+":"+sc.Source.Source))
		}
	}
	if sc.IDE != "" {
		args = append(args, flagArg(flagIDE, sc.IDE))
	}
	if sc.ProviderID != "" {
		args = append(args, flagArg(flagProvider, sc.ProviderID))
	}
	if len(sc.PrebuildRepositories) > 0 {
		args = append(args, flagArg(flagPrebuildRepo, strings.Join(sc.PrebuildRepositories, ",")))
	}
	if sc.DevcontainerPath != "" {
		args = append(args, flagArg(flagDevcontainerPath, sc.DevcontainerPath))
	}
	args = append(args, c.additionalFlags()...)
	for _, k := range sortedKeys(sc.ProviderOptions) {
		args = append(args, flagArg(flagProviderOption, k+"="+sc.ProviderOptions[k]))
	}
	args = append(args, flagJSONLogOutput)
	return c.withDebug(append([]string{cmdUp, identifier}, args...))
}

func (c *Client) stopArgs(id string) []string {
	return c.withDebug([]string{cmdStop, id, flagJSONLogOutput})
}

func (c *Client) rebuildArgs(id string) []string {
	return c.withDebug([]string{cmdUp, id, flagJSONLogOutput, flagRecreate})
}

func (c *Client) resetArgs(id string) []string {
	return c.withDebug([]string{cmdUp, id, flagJSONLogOutput, flagReset})
}

func (c *Client) deleteArgs(id string, force bool) []string {
	args := []string{cmdDelete, id, flagJSONLogOutput}
	if force {
		args = append(args, flagForce)
	}
	return c.withDebug(args)
}

func (c *Client) withDebug(args []string) []string {
	if c.cfg.Debug {
		return append(args, flagDebug)
	}
	return args
}

func (c *Client) additionalFlags() []string {
	var out []string
	if c.cfg.DotfilesURL != "" {
		out = append(out, flagArg(flagDotfiles, c.cfg.DotfilesURL))
	}
	if c.cfg.GitSSHSigningKey != "" {
		out = append(out, flagArg(flagGitSigningKey, c.cfg.GitSSHSigningKey))
	}
	for _, k := range sortedKeys(c.cfg.AdditionalFlags) {
		v := c.cfg.AdditionalFlags[k]
		if k == RawFlagsKey {
			out = append(out, strings.Fields(v)...)
			continue
		}
		out = append(out, flagArg(k, v))
	}
	return out
}
