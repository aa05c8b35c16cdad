// Package config loads the user-facing texts and the system prompts from a
// flat YAML mapping and serves them to the rest of the application.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Keys every texts file must define.
const (
	KeyPrompt          = "prompt"
	KeyWelcome         = "welcome"
	KeyButtonText      = "btn_text"
	KeyAccessDenied    = "access_denied"
	KeyContactReceived = "contact_received"
	KeyAdminChatID     = "admin_chat_id"
)

// RequiredKeys lists the keys validated at load time.
var RequiredKeys = []string{KeyPrompt, KeyWelcome, KeyButtonText, KeyAccessDenied, KeyContactReceived}

var (
	// ErrMissingKey is returned when a required text key is absent or empty.
	ErrMissingKey = errors.New("missing required text key")
	// ErrUnknownPromptKey is returned when a prompt key does not resolve.
	ErrUnknownPromptKey = errors.New("unknown prompt key")
)

// Texts is a concurrency-safe view of the texts file.
type Texts struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// Load reads and validates the texts file at path.
func Load(path string) (*Texts, error) {
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	slog.Info("Texts.Load: texts loaded", "path", path, "keys", len(values))
	return &Texts{path: path, values: values}, nil
}

// FromMap builds Texts from an in-memory mapping. Required keys are validated.
func FromMap(values map[string]string) (*Texts, error) {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	if err := validate(cp); err != nil {
		return nil, err
	}
	return &Texts{values: cp}, nil
}

// Reload re-reads the file. On any error the previously loaded texts stay active.
func (t *Texts) Reload() error {
	if t.path == "" {
		return fmt.Errorf("texts were not loaded from a file")
	}
	values, err := readFile(t.path)
	if err != nil {
		slog.Error("Texts.Reload: keeping previous texts", "path", t.path, "error", err)
		return err
	}
	t.mu.Lock()
	t.values = values
	t.mu.Unlock()
	slog.Info("Texts.Reload: texts reloaded", "path", t.path, "keys", len(values))
	return nil
}

// Text returns the value for key, or an empty string if absent.
func (t *Texts) Text(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[key]
}

// ActivePrompt returns the globally configured system prompt.
func (t *Texts) ActivePrompt() string {
	return t.Text(KeyPrompt)
}

// PromptByKey resolves a prompt key to its text.
func (t *Texts) PromptByKey(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// AdminChatID returns the administrator destination, if one is configured.
func (t *Texts) AdminChatID() (int64, bool) {
	raw := strings.TrimSpace(t.Text(KeyAdminChatID))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("Texts.AdminChatID: invalid admin_chat_id, admin notices disabled", "value", raw, "error", err)
		return 0, false
	}
	return id, true
}

// Keys returns all configured keys in sorted order.
func (t *Texts) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read texts file %s: %w", path, err)
	}
	values, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse texts file %s: %w", path, err)
	}
	if err := validate(values); err != nil {
		return nil, fmt.Errorf("invalid texts file %s: %w", path, err)
	}
	return values, nil
}

// parse decodes a flat YAML mapping. Scalar values of any type are kept as text.
func parse(data []byte) (map[string]string, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			values[k] = ""
		case string:
			values[k] = val
		case map[string]interface{}, []interface{}:
			return nil, fmt.Errorf("key %q: nested values are not supported", k)
		default:
			values[k] = fmt.Sprint(val)
		}
	}
	return values, nil
}

func validate(values map[string]string) error {
	for _, k := range RequiredKeys {
		if strings.TrimSpace(values[k]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingKey, k)
		}
	}
	return nil
}
