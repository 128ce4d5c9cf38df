package subscription

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

/* Loader serves subscriptions from a YAML file
 * Provides in-memory lookup for fast access and can be reloaded
 */

// Config represents the structure of subscriptions.yaml
type Config struct {
	Subscriptions []Entry `yaml:"subscriptions"`
}

// Entry represents a single subscription in the YAML file
type Entry struct {
	ID       string            `yaml:"id"`
	URL      string            `yaml:"url"`
	Secret   string            `yaml:"secret"`
	Enabled  *bool             `yaml:"enabled"` // Default: true
	Events   []string          `yaml:"events"`
	Method   string            `yaml:"method"` // Default: POST
	Headers  map[string]string `yaml:"headers"`
	Retry    RetryConfig       `yaml:"retry"`
	Platform string            `yaml:"platform"`
}

// RetryConfig holds per subscription retry settings
type RetryConfig struct {
	MaxRetries *int `yaml:"max_retries"` // Default: DefaultMaxRetries
}

// Loader holds the loaded subscriptions
type Loader struct {
	mu            sync.RWMutex
	subscriptions map[string]Subscription
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{
		subscriptions: make(map[string]Subscription),
	}
}

// Load reads and parses the subscriptions file, replacing what was loaded before
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading subscriptions file: %w", err)
	}
	return l.Parse(data)
}

// Parse loads subscriptions from YAML bytes
func (l *Loader) Parse(data []byte) error {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing subscriptions YAML: %w", err)
	}

	loaded := make(map[string]Subscription, len(config.Subscriptions))
	for _, e := range config.Subscriptions {
		sub := e.toSubscription()
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("validating subscription: %w", err)
		}
		if _, dup := loaded[sub.ID]; dup {
			return fmt.Errorf("validating subscription: duplicate id %s", sub.ID)
		}
		loaded[sub.ID] = sub
	}

	l.mu.Lock()
	l.subscriptions = loaded
	l.mu.Unlock()
	return nil
}

func (e Entry) toSubscription() Subscription {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	method := strings.ToUpper(strings.TrimSpace(e.Method))
	if method == "" {
		method = http.MethodPost
	}
	maxRetries := DefaultMaxRetries
	if e.Retry.MaxRetries != nil {
		maxRetries = *e.Retry.MaxRetries
	}
	return Subscription{
		ID:         e.ID,
		URL:        e.URL,
		Secret:     e.Secret,
		Enabled:    enabled,
		Events:     e.Events,
		Method:     method,
		Headers:    e.Headers,
		MaxRetries: maxRetries,
		Platform:   e.Platform,
	}
}

// Put adds or replaces a subscription after validating it
func (l *Loader) Put(sub Subscription) error {
	if sub.Method == "" {
		sub.Method = http.MethodPost
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("validating subscription: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscriptions[sub.ID] = sub
	return nil
}

// SetEnabled toggles a subscription
func (l *Loader) SetEnabled(id string, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subscriptions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sub.Enabled = enabled
	l.subscriptions[id] = sub
	return nil
}

// Get retrieves a subscription by its ID
func (l *Loader) Get(_ context.Context, id string) (Subscription, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sub, ok := l.subscriptions[id]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub, nil
}

// Matching returns enabled subscriptions accepting eventType, ordered by id
func (l *Loader) Matching(_ context.Context, eventType string) ([]Subscription, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var matched []Subscription
	for _, sub := range l.subscriptions {
		if sub.Accepts(eventType) {
			matched = append(matched, sub)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

// List returns all loaded subscriptions ordered by id
func (l *Loader) List() []Subscription {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := make([]Subscription, 0, len(l.subscriptions))
	for _, sub := range l.subscriptions {
		all = append(all, sub)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
