// Package workspace holds the workspace model shared by the store, the
// reconciler and the CLI driver.
package workspace

import "time"

// Status is the last known runtime state of a workspace. The empty value
// means the status has not been observed yet.
type Status string

const (
	StatusUnknown  Status = ""
	StatusRunning  Status = "Running"
	StatusBusy     Status = "Busy"
	StatusStopped  Status = "Stopped"
	StatusNotFound Status = "NotFound"
)

// Valid reports whether s is one of the statuses the CLI reports.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusBusy, StatusStopped, StatusNotFound:
		return true
	}
	return false
}

// Provider names the provider a workspace runs on, with the options it was
// created with.
type Provider struct {
	Name    string                 `json:"name"`
	Options map[string]OptionValue `json:"options,omitempty"`
}

// OptionValue is a single provider option as reported by `list`.
type OptionValue struct {
	Value        string `json:"value,omitempty"`
	UserProvided bool   `json:"userProvided,omitempty"`
}

// IDE is the editor the workspace opens with.
type IDE struct {
	Name string `json:"name,omitempty"`
}

// Source is where the workspace was created from. At most one of the git,
// local folder or image fields is normally set.
type Source struct {
	GitRepository  string `json:"gitRepository,omitempty"`
	GitBranch      string `json:"gitBranch,omitempty"`
	GitCommit      string `json:"gitCommit,omitempty"`
	GitPRReference string `json:"gitPRReference,omitempty"`
	GitSubPath     string `json:"gitSubPath,omitempty"`
	LocalFolder    string `json:"localFolder,omitempty"`
	Image          string `json:"image,omitempty"`
}

// String renders the source the way `up` accepts it.
func (s Source) String() string {
	switch {
	case s.GitRepository != "":
		out := s.GitRepository
		if s.GitBranch != "" {
			out += "@" + s.GitBranch
		}
		return out
	case s.LocalFolder != "":
		return s.LocalFolder
	case s.Image != "":
		return s.Image
	}
	return ""
}

// Workspace is one entry of the authoritative workspace list. Identity is ID.
type Workspace struct {
	ID       string    `json:"id"`
	UID      string    `json:"uid,omitempty"`
	Picture  string    `json:"picture,omitempty"`
	Provider *Provider `json:"provider"`
	Status   Status    `json:"status,omitempty"`
	IDE      IDE       `json:"ide"`
	Source   Source    `json:"source"`
	Context  string    `json:"context,omitempty"`
	Created  time.Time `json:"creationTimestamp,omitzero"`
	LastUsed time.Time `json:"lastUsed,omitzero"`
}

// WithoutStatus returns a copy of w with Status cleared. Fetched list
// records never carry a status, so comparisons strip it from both sides.
func (w Workspace) WithoutStatus() Workspace {
	w.Status = StatusUnknown
	return w
}
