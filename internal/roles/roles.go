// Package roles defines the fixed reviewer panel.
package roles

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Role identifies one reviewer lens.
type Role string

const (
	Base       Role = "base"
	FraudTypeA Role = "fraud_type_A"
	FraudTypeB Role = "fraud_type_B"
	FraudTypeC Role = "fraud_type_C"
	FraudTypeD Role = "fraud_type_D"
	FraudTypeE Role = "fraud_type_E"
	FraudTypeF Role = "fraud_type_F"
	Defense    Role = "defense"
)

// ErrUnknownRole is returned for names outside the fixed set.
var ErrUnknownRole = errors.New("unknown reviewer role")

// PanelRoles are the mandatory lenses, in dispatch order.
var PanelRoles = []Role{Base, FraudTypeA, FraudTypeB, FraudTypeC, FraudTypeD, FraudTypeE, FraudTypeF}

// All returns every role including defense.
func All() []Role {
	return append(append([]Role(nil), PanelRoles...), Defense)
}

// Parse maps a name onto a Role.
func Parse(name string) (Role, error) {
	for _, r := range All() {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// Definition is the immutable description of one role.
type Definition struct {
	Name         Role     `yaml:"name"`
	Title        string   `yaml:"title"`
	SystemPrompt string   `yaml:"system_prompt"`
	InputFields  []string `yaml:"input_fields"`
	AllFields    bool     `yaml:"all_fields"`
	QueryFocus   string   `yaml:"query_focus"`
}

type catalogFile struct {
	SharedFields []string     `yaml:"shared_fields"`
	Roles        []Definition `yaml:"roles"`
}

// Catalog holds every role definition.
type Catalog struct {
	shared []string
	defs   map[Role]Definition
}

//go:embed roles.yaml
var embedded []byte

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Load(bytes.NewReader(embedded))
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for callers that treat a broken embed as fatal.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load parses and validates a catalog.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode role catalog: %w", err)
	}
	c := &Catalog{shared: f.SharedFields, defs: make(map[Role]Definition, len(f.Roles))}
	for _, d := range f.Roles {
		if _, err := Parse(string(d.Name)); err != nil {
			return nil, err
		}
		if _, dup := c.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate role %q", d.Name)
		}
		if strings.TrimSpace(d.SystemPrompt) == "" {
			return nil, fmt.Errorf("role %q has no system_prompt", d.Name)
		}
		if !d.AllFields && len(d.InputFields) == 0 {
			return nil, fmt.Errorf("role %q consumes no fields", d.Name)
		}
		c.defs[d.Name] = d
	}
	for _, r := range All() {
		if _, ok := c.defs[r]; !ok {
			return nil, fmt.Errorf("role %q missing from catalog", r)
		}
	}
	return c, nil
}

// Get returns the definition of role.
func (c *Catalog) Get(role Role) (Definition, error) {
	d, ok := c.defs[role]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return d, nil
}

// Fields returns the workpaper fields role consumes: its own subset followed
// by the shared context. A nil slice means the whole workpaper.
func (c *Catalog) Fields(role Role) ([]string, error) {
	d, err := c.Get(role)
	if err != nil {
		return nil, err
	}
	if d.AllFields {
		return nil, nil
	}
	out := append([]string(nil), d.InputFields...)
	for _, s := range c.shared {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
