package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
)

// readFileACL decodes auth.acl straight from a YAML or JSON config file.
// Viper lower-cases mapping keys and loses their order, so user and group
// names written as mapping keys only survive intact when read from the
// document itself. found is false when the file has no auth.acl entry.
func readFileACL(path string) (acl auth.ACL, found bool, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return auth.ACL{}, false, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return auth.ACL{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return auth.ACL{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return auth.ACL{}, false, nil
	}

	node := lookupNode(doc.Content[0], "auth")
	if node == nil {
		return auth.ACL{}, false, nil
	}
	node = lookupNode(node, "acl")
	if node == nil {
		return auth.ACL{}, false, nil
	}
	acl, err = decodeACLNode(node)
	return acl, err == nil, err
}

// lookupNode returns the value under key in a mapping node. Keys compare
// case-insensitively, as viper does.
func lookupNode(n *yaml.Node, key string) *yaml.Node {
	n = resolveAlias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if strings.EqualFold(n.Content[i].Value, key) {
			return resolveAlias(n.Content[i+1])
		}
	}
	return nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func decodeACLNode(n *yaml.Node) (auth.ACL, error) {
	n = resolveAlias(n)
	if isNull(n) {
		return auth.ACL{}, nil
	}
	if n.Kind == yaml.ScalarNode {
		return auth.FallbackACL(strings.TrimSpace(n.Value)), nil
	}
	if n.Kind != yaml.MappingNode {
		return auth.ACL{}, fmt.Errorf("acl: line %d: expected a string or a mapping", n.Line)
	}

	var acl auth.ACL
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i].Value, resolveAlias(n.Content[i+1])
		var err error
		switch strings.ToLower(key) {
		case "fallback":
			if !isNull(value) {
				if value.Kind != yaml.ScalarNode {
					return auth.ACL{}, fmt.Errorf("acl.fallback: line %d: expected a string", value.Line)
				}
				acl.Fallback = strings.TrimSpace(value.Value)
			}
		case "users":
			acl.Users, err = decodeUsersNode(value)
		case "groups":
			acl.Groups, err = decodeGroupsNode(value)
		default:
			err = fmt.Errorf("acl: unknown key %q", key)
		}
		if err != nil {
			return auth.ACL{}, err
		}
	}
	return acl, nil
}

type userNode struct {
	User           string `yaml:"user"`
	ServiceAccount string `yaml:"serviceAccount"`
}

func decodeUsersNode(n *yaml.Node) (map[string]string, error) {
	if isNull(n) {
		return nil, nil
	}
	switch n.Kind {
	case yaml.SequenceNode:
		users := make(map[string]string, len(n.Content))
		for i, item := range n.Content {
			var rule userNode
			if err := resolveAlias(item).Decode(&rule); err != nil {
				return nil, fmt.Errorf("acl.users[%d]: %w", i, err)
			}
			if rule.User == "" {
				return nil, fmt.Errorf("acl.users[%d]: missing user", i)
			}
			users[rule.User] = rule.ServiceAccount
		}
		return users, nil
	case yaml.MappingNode:
		users := make(map[string]string, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			user, value := n.Content[i].Value, resolveAlias(n.Content[i+1])
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("acl.users.%s: line %d: expected a string", user, value.Line)
			}
			users[user] = value.Value
		}
		return users, nil
	}
	return nil, fmt.Errorf("acl.users: line %d: expected a mapping or a list", n.Line)
}

func decodeGroupsNode(n *yaml.Node) ([]auth.GroupRule, error) {
	if isNull(n) {
		return nil, nil
	}
	switch n.Kind {
	case yaml.SequenceNode:
		rules := make([]auth.GroupRule, 0, len(n.Content))
		for i, item := range n.Content {
			var rule auth.GroupRule
			if err := resolveAlias(item).Decode(&rule); err != nil {
				return nil, fmt.Errorf("acl.groups[%d]: %w", i, err)
			}
			rules = append(rules, rule)
		}
		return rules, nil
	case yaml.MappingNode:
		rules := make([]auth.GroupRule, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			group, value := n.Content[i].Value, resolveAlias(n.Content[i+1])
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("acl.groups.%s: line %d: expected a string", group, value.Line)
			}
			rules = append(rules, auth.GroupRule{Group: group, ServiceAccount: value.Value})
		}
		return rules, nil
	}
	return nil, fmt.Errorf("acl.groups: line %d: expected a mapping or a list", n.Line)
}
