package sources

import (
	"fmt"
	"strings"

	"cw/internal/services"
)

// Spec is one parsed source specifier: a log group and an optional stream
// name prefix.
type Spec struct {
	Source string
	Prefix string
}

func (s Spec) String() string {
	if s.Prefix == "" {
		return s.Source
	}
	return s.Source + ":" + s.Prefix
}

// Parse splits specifiers of the form source[:subPrefix]. Each value may carry
// several comma-joined specifiers. Empty entries are ignored and duplicates
// collapse to their first occurrence.
func Parse(values ...string) ([]Spec, error) {
	var specs []Spec
	seen := make(map[Spec]struct{})
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			source, prefix, _ := strings.Cut(raw, ":")
			spec := Spec{Source: strings.TrimSpace(source), Prefix: strings.TrimSpace(prefix)}
			if spec.Source == "" {
				return nil, services.Wrap(services.ErrValidation, "sources", "parse", fmt.Sprintf("specifier %q has no log group", raw), nil)
			}
			if _, ok := seen[spec]; ok {
				continue
			}
			seen[spec] = struct{}{}
			specs = append(specs, spec)
		}
	}
	if len(specs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "sources", "parse", "at least one log group is required", nil)
	}
	return specs, nil
}
