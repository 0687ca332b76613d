package synth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Substitutions resolves {name} placeholders in generator templates.
type Substitutions struct {
	mu        sync.RWMutex
	suppliers map[string]func() string
}

// NewSubstitutions returns a registry holding the built-in "uid" supplier.
func NewSubstitutions() *Substitutions {
	return &Substitutions{
		suppliers: map[string]func() string{
			"uid": UID,
		},
	}
}

// UID returns a fresh identifier usable inside type names.
func UID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register adds a supplier. Names are registered once.
func (s *Substitutions) Register(name string, supplier func() string) error {
	if name == "" || strings.ContainsAny(name, "{}") {
		return fmt.Errorf("%w: substitution name %q", ErrIllegalArgument, name)
	}
	if supplier == nil {
		return errors.New("synth: substitution supplier must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suppliers[name]; ok {
		return fmt.Errorf("%w: substitution %q", ErrDuplicateMember, name)
	}
	s.suppliers[name] = supplier
	return nil
}

// Expand replaces every {name} in template. Each placeholder occurrence calls its
// supplier again, so "{uid}-{uid}" yields two different values.
func (s *Substitutions) Expand(template string) (string, error) {
	if !strings.Contains(template, "{") {
		return template, nil
	}
	var b strings.Builder
	b.Grow(len(template) + 32)
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return "", fmt.Errorf("%w: unterminated placeholder in %q", ErrIllegalArgument, template)
		}
		name := rest[open+1 : open+closing]
		s.mu.RLock()
		supplier, ok := s.suppliers[name]
		s.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("%w: {%s}", ErrUnknownSubstitution, name)
		}
		b.WriteString(rest[:open])
		b.WriteString(supplier())
		rest = rest[open+closing+1:]
	}
}
