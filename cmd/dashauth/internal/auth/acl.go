package auth

import (
	"fmt"
	"slices"
)

// GroupRule maps members of Group to a backend service account.
type GroupRule struct {
	Group          string `mapstructure:"group" json:"group" yaml:"group"`
	ServiceAccount string `mapstructure:"serviceAccount" json:"serviceAccount" yaml:"serviceAccount"`
}

// ACL maps verified identities to backend service accounts.
//
// Precedence is Users, then the first matching entry of Groups in order,
// then Fallback. A configuration given as a plain string is an ACL with only
// Fallback set.
type ACL struct {
	Fallback string            `mapstructure:"fallback" json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Users    map[string]string `mapstructure:"users" json:"users,omitempty" yaml:"users,omitempty"`
	Groups   []GroupRule       `mapstructure:"groups" json:"groups,omitempty" yaml:"groups,omitempty"`
}

// FallbackACL returns the shorthand form: every verified user maps to fqn.
func FallbackACL(fqn string) ACL {
	return ACL{Fallback: fqn}
}

// IsEmpty reports whether the ACL grants nothing to anyone.
func (a ACL) IsEmpty() bool {
	return a.Fallback == "" && len(a.Users) == 0 && len(a.Groups) == 0
}

// Problems lists entries that cannot be used: unparseable service accounts and
// duplicate group keys.
func (a ACL) Problems() []string {
	var problems []string

	if a.Fallback != "" {
		if _, err := ParseServiceAccount(a.Fallback); err != nil {
			problems = append(problems, fmt.Sprintf("ACL fallback: %v.", err))
		}
	}

	users := make([]string, 0, len(a.Users))
	for user := range a.Users {
		users = append(users, user)
	}
	slices.Sort(users)
	for _, user := range users {
		if _, err := ParseServiceAccount(a.Users[user]); err != nil {
			problems = append(problems, fmt.Sprintf("ACL entry for user %q: %v.", user, err))
		}
	}

	seen := make(map[string]struct{}, len(a.Groups))
	for _, rule := range a.Groups {
		if rule.Group == "" {
			problems = append(problems, "ACL group entry without a group name.")
			continue
		}
		if _, dup := seen[rule.Group]; dup {
			problems = append(problems, fmt.Sprintf("ACL group %q is listed more than once.", rule.Group))
		}
		seen[rule.Group] = struct{}{}
		if _, err := ParseServiceAccount(rule.ServiceAccount); err != nil {
			problems = append(problems, fmt.Sprintf("ACL entry for group %q: %v.", rule.Group, err))
		}
	}

	return problems
}

// Resolve maps a verified user to the backend service account it may use.
// The boolean is false when no entry applies, which callers must treat as
// access denied rather than an authentication failure.
func Resolve(username string, groups []string, acl ACL) (ServiceAccount, bool) {
	if fqn, ok := acl.Users[username]; ok {
		if sa, err := ParseServiceAccount(fqn); err == nil {
			return sa, true
		}
	}

	if len(groups) > 0 {
		member := make(map[string]struct{}, len(groups))
		for _, g := range groups {
			member[g] = struct{}{}
		}
		for _, rule := range acl.Groups {
			if _, ok := member[rule.Group]; !ok {
				continue
			}
			if sa, err := ParseServiceAccount(rule.ServiceAccount); err == nil {
				return sa, true
			}
		}
	}

	if acl.Fallback != "" {
		if sa, err := ParseServiceAccount(acl.Fallback); err == nil {
			return sa, true
		}
	}

	return ServiceAccount{}, false
}
