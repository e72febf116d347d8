package auth

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultNamespace is assumed when a service account is given without a namespace.
const DefaultNamespace = "default"

// ErrEmptyServiceAccount is returned when parsing an empty service account reference.
var ErrEmptyServiceAccount = errors.New("empty service account id")

// ServiceAccount identifies the backend principal a verified user is mapped to.
type ServiceAccount struct {
	Namespace string
	Name      string
}

// ParseServiceAccount parses "namespace/name" or a bare "name".
// Only the first "/" separates the namespace; anything after it belongs to the name.
func ParseServiceAccount(fqn string) (ServiceAccount, error) {
	fqn = strings.TrimSpace(fqn)
	if fqn == "" {
		return ServiceAccount{}, ErrEmptyServiceAccount
	}

	namespace, name, found := strings.Cut(fqn, "/")
	if !found {
		return ServiceAccount{Namespace: DefaultNamespace, Name: fqn}, nil
	}
	if namespace == "" || name == "" {
		return ServiceAccount{}, fmt.Errorf("invalid service account id %q", fqn)
	}
	return ServiceAccount{Namespace: namespace, Name: name}, nil
}

// MustParseServiceAccount is like ParseServiceAccount but panics on error.
// Intended for literals in tests and defaults.
func MustParseServiceAccount(fqn string) ServiceAccount {
	sa, err := ParseServiceAccount(fqn)
	if err != nil {
		panic(err)
	}
	return sa
}

// FQN returns the canonical form, omitting the default namespace.
func (s ServiceAccount) FQN() string {
	if s.Namespace == DefaultNamespace {
		return s.Name
	}
	return s.Namespace + "/" + s.Name
}

// Key is the case-folded namespace/name pair used for cache lookups.
func (s ServiceAccount) Key() string {
	return strings.ToLower(s.Namespace) + "/" + strings.ToLower(s.Name)
}

// IsZero reports whether s is the zero value.
func (s ServiceAccount) IsZero() bool {
	return s.Namespace == "" && s.Name == ""
}

func (s ServiceAccount) String() string { return s.FQN() }
