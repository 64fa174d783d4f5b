package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
)

const maxRuleFileSize = 1024 * 1024

// Format is a rule book file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// fileBook is the on-disk shape shared by YAML and TOML:
//
//	version: "2024.2"
//	categories:
//	  food:
//	    - code: LM-FOOD-001
//	      field: fssai_license
//	      requirement: always
//	      penalty: 20
//	      message: FSSAI license number is not declared
//	      validator: {kind: presence}
type fileBook struct {
	Version    string                `koanf:"version" toml:"version"`
	Categories map[string][]fileRule `koanf:"categories" toml:"categories"`
}

type fileRule struct {
	Code        string        `koanf:"code" toml:"code"`
	Field       string        `koanf:"field" toml:"field"`
	Requirement string        `koanf:"requirement" toml:"requirement"`
	Penalty     int           `koanf:"penalty" toml:"penalty"`
	Message     string        `koanf:"message" toml:"message"`
	Validator   fileValidator `koanf:"validator" toml:"validator"`
}

type fileValidator struct {
	Kind      string   `koanf:"kind" toml:"kind"`
	Regex     string   `koanf:"regex" toml:"regex"`
	MustMatch *bool    `koanf:"must_match" toml:"must_match"`
	Min       *float64 `koanf:"min" toml:"min"`
	Max       *float64 `koanf:"max" toml:"max"`
	MaxField  string   `koanf:"max_field" toml:"max_field"`
}

// LoadFile reads a rule book, choosing the format from the extension.
func LoadFile(path string) (*Book, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Reason: err.Error()}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat rule file: %w", err)
	}
	if info.Size() > maxRuleFileSize {
		return nil, &ConfigError{Source: path, Reason: fmt.Sprintf("file too large: %d bytes", info.Size())}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	book, err := Parse(data, format)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.Source == "" {
			ce.Source = path
		}
		return nil, err
	}
	return book, nil
}

func formatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported rule file extension %q", filepath.Ext(path))
}

// Parse decodes and validates a rule book. Any problem is a *ConfigError.
func Parse(data []byte, format Format) (*Book, error) {
	var fb fileBook
	switch format {
	case FormatYAML:
		k := koanf.New(".")
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid yaml: %v", err)}
		}
		if err := k.Unmarshal("", &fb); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid rule book: %v", err)}
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &fb); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid toml: %v", err)}
		}
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported format %q", format)}
	}

	sets := make([]RuleSet, 0, len(fb.Categories))
	for name, frs := range fb.Categories {
		category, err := catalog.Parse(name)
		if err != nil {
			return nil, &ConfigError{Category: catalog.Category(name), Reason: "unknown category"}
		}
		set := RuleSet{Category: category, Rules: make([]Rule, 0, len(frs))}
		for _, fr := range frs {
			r, err := fr.rule()
			if err != nil {
				return nil, &ConfigError{Category: category, Rule: fr.Code, Reason: err.Error()}
			}
			set.Rules = append(set.Rules, r)
		}
		sets = append(sets, set)
	}
	return NewBook(fb.Version, sets)
}

func (fr fileRule) rule() (Rule, error) {
	r := Rule{
		Code:        fr.Code,
		Field:       catalog.Field(fr.Field),
		Requirement: Requirement(fr.Requirement),
		Penalty:     fr.Penalty,
		Message:     fr.Message,
	}
	if r.Requirement == "" {
		r.Requirement = Always
	}
	v := fr.Validator
	switch ValidatorKind(v.Kind) {
	case "", KindPresence:
		r.Validator = Presence()
	case KindPattern:
		if v.Regex == "" {
			return Rule{}, fmt.Errorf("pattern validator needs a regex")
		}
		re, err := regexp.Compile(v.Regex)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid regex: %w", err)
		}
		r.Validator = Validator{Kind: KindPattern, Regex: re, MustMatch: v.MustMatch == nil || *v.MustMatch}
	case KindRange:
		r.Validator = Validator{Kind: KindRange, Min: v.Min, Max: v.Max, MaxField: catalog.Field(v.MaxField)}
	default:
		return Rule{}, fmt.Errorf("unknown validator kind %q", v.Kind)
	}
	return r, nil
}
