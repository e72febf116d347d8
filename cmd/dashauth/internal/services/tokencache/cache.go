// Package tokencache resolves service accounts to API bearer tokens and keeps
// them for reuse.
//
// Tokens are read from the legacy service-account token secrets: the first
// secret referenced by the service account holds the token under data.token.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/telemetry"
)

var (
	// ErrServiceAccountNotFound means no service account matches namespace and name.
	ErrServiceAccountNotFound = errors.New("service account not found")
	// ErrNoSecret means the service account references no secrets.
	ErrNoSecret = errors.New("service account has no token secret")
	// ErrEmptyToken means the referenced secret has no token.
	ErrEmptyToken = errors.New("service account secret holds no token")
)

type entry struct {
	token   string
	fetched time.Time
}

// Options tunes a Cache.
type Options struct {
	// Timeout bounds a single fetch. Defaults to 10s.
	Timeout time.Duration
	// TTL expires entries after this long. Zero keeps them until Reset.
	TTL time.Duration

	Logger  logrus.FieldLogger
	Metrics *telemetry.TokenCacheMetrics
}

// Cache maps service accounts to bearer tokens. Safe for concurrent use.
type Cache struct {
	client  kubernetes.Interface
	timeout time.Duration
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *telemetry.TokenCacheMetrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// New returns an empty cache reading from client.
func New(client kubernetes.Interface, opts Options) *Cache {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Cache{
		client:  client,
		timeout: opts.Timeout,
		ttl:     opts.TTL,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Token returns the bearer token for sa.
//
// A cached token is returned without contacting the API. On a miss, concurrent
// callers asking for the same service account share one fetch. The fetch is
// not cancelled when ctx is; ctx only bounds how long this caller waits.
// Nothing is cached when the fetch fails.
func (c *Cache) Token(ctx context.Context, sa auth.ServiceAccount) (string, error) {
	key := sa.Key()

	if token, ok := c.lookup(key); ok {
		c.metrics.RecordLookup(ctx, true)
		return token, nil
	}
	c.metrics.RecordLookup(ctx, false)

	ch := c.group.DoChan(key, func() (any, error) {
		// a concurrent flight may have filled the entry while we queued
		if token, ok := c.lookup(key); ok {
			return token, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		token, err := c.fetch(fetchCtx, sa)
		c.metrics.RecordFetch(fetchCtx, err)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.entries[key] = entry{token: token, fetched: c.now()}
		c.mu.Unlock()

		c.log.WithField("service_account", sa.FQN()).Debug("Cached service account token")
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Cache) lookup(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(e.fetched) >= c.ttl {
		return "", false
	}
	return e.token, true
}

// fetch lists service accounts across all namespaces, matches namespace and
// name case-insensitively, and reads the token from the first referenced secret.
func (c *Cache) fetch(ctx context.Context, sa auth.ServiceAccount) (string, error) {
	list, err := c.client.CoreV1().ServiceAccounts(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list service accounts: %w", err)
	}

	var secretName, namespace string
	found := false
	for i := range list.Items {
		item := &list.Items[i]
		if !strings.EqualFold(item.Namespace, sa.Namespace) || !strings.EqualFold(item.Name, sa.Name) {
			continue
		}
		found = true
		namespace = item.Namespace
		if len(item.Secrets) > 0 {
			secretName = item.Secrets[0].Name
		}
		break
	}
	if !found {
		return "", fmt.Errorf("%s: %w", sa.FQN(), ErrServiceAccountNotFound)
	}
	if secretName == "" {
		return "", fmt.Errorf("%s: %w", sa.FQN(), ErrNoSecret)
	}

	secret, err := c.client.CoreV1().Secrets(namespace).Get(ctx, secretName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get secret %s/%s: %w", namespace, secretName, err)
	}

	token := strings.TrimSpace(string(secret.Data["token"]))
	if token == "" {
		return "", fmt.Errorf("%s: %w", sa.FQN(), ErrEmptyToken)
	}
	return token, nil
}

// Reset drops every cached token.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of cached tokens, including expired ones not yet replaced.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
