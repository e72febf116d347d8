package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
)

type userRule struct {
	User           string `mapstructure:"user"`
	ServiceAccount string `mapstructure:"serviceAccount"`
}

// ACLDecodeHook decodes auth.ACL from any of its accepted forms:
//
//	acl: kube-system/dashboard-viewer          # fallback only
//
//	acl:
//	  fallback: kube-system/dashboard-viewer
//	  users:                                   # map or list of {user, serviceAccount}
//	    - user: Alice
//	      serviceAccount: kube-system/admin
//	  groups:                                  # map or list, evaluated in document order
//	    - group: ops
//	      serviceAccount: kube-system/ops
//
// Viper folds map keys to lower case and drops their order. LoadFrom therefore
// rereads an ACL found in a YAML or JSON config file with readFileACL; this
// hook covers the remaining sources, where a group map is ordered by key.
func ACLDecodeHook() mapstructure.DecodeHookFuncType {
	aclType := reflect.TypeOf(auth.ACL{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != aclType {
			return data, nil
		}
		return decodeACL(data)
	}
}

func decodeACL(data any) (auth.ACL, error) {
	switch v := data.(type) {
	case nil:
		return auth.ACL{}, nil
	case auth.ACL:
		return v, nil
	case string:
		return auth.FallbackACL(strings.TrimSpace(v)), nil
	}

	m, ok := toStringMap(data)
	if !ok {
		return auth.ACL{}, fmt.Errorf("acl: expected a string or a mapping, got %T", data)
	}

	var acl auth.ACL
	for key, value := range m {
		var err error
		switch strings.ToLower(key) {
		case "fallback":
			if value != nil {
				s, ok := value.(string)
				if !ok {
					return auth.ACL{}, fmt.Errorf("acl.fallback: expected a string, got %T", value)
				}
				acl.Fallback = strings.TrimSpace(s)
			}
		case "users":
			acl.Users, err = decodeUsers(value)
		case "groups":
			acl.Groups, err = decodeGroups(value)
		default:
			err = fmt.Errorf("acl: unknown key %q", key)
		}
		if err != nil {
			return auth.ACL{}, err
		}
	}
	return acl, nil
}

func decodeUsers(data any) (map[string]string, error) {
	if data == nil {
		return nil, nil
	}
	if list, ok := data.([]any); ok {
		users := make(map[string]string, len(list))
		for i, item := range list {
			var rule userRule
			if err := mapstructure.Decode(item, &rule); err != nil {
				return nil, fmt.Errorf("acl.users[%d]: %w", i, err)
			}
			if rule.User == "" {
				return nil, fmt.Errorf("acl.users[%d]: missing user", i)
			}
			users[rule.User] = rule.ServiceAccount
		}
		return users, nil
	}

	m, ok := toStringMap(data)
	if !ok {
		return nil, fmt.Errorf("acl.users: expected a mapping or a list, got %T", data)
	}
	users := make(map[string]string, len(m))
	for user, value := range m {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("acl.users.%s: expected a string, got %T", user, value)
		}
		users[user] = s
	}
	return users, nil
}

func decodeGroups(data any) ([]auth.GroupRule, error) {
	if data == nil {
		return nil, nil
	}
	if list, ok := data.([]any); ok {
		rules := make([]auth.GroupRule, 0, len(list))
		for i, item := range list {
			var rule auth.GroupRule
			if err := mapstructure.Decode(item, &rule); err != nil {
				return nil, fmt.Errorf("acl.groups[%d]: %w", i, err)
			}
			rules = append(rules, rule)
		}
		return rules, nil
	}

	m, ok := toStringMap(data)
	if !ok {
		return nil, fmt.Errorf("acl.groups: expected a mapping or a list, got %T", data)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rules := make([]auth.GroupRule, 0, len(keys))
	for _, group := range keys {
		s, ok := m[group].(string)
		if !ok {
			return nil, fmt.Errorf("acl.groups.%s: expected a string, got %T", group, m[group])
		}
		rules = append(rules, auth.GroupRule{Group: group, ServiceAccount: s})
	}
	return rules, nil
}

func toStringMap(data any) (map[string]any, bool) {
	switch v := data.(type) {
	case map[string]any:
		return v, true
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}
