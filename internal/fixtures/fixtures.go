// Package fixtures loads YAML seed data into the entity store.
//
// A fixture file is an ordered list of records. A record may name itself with ref; later
// records point at it with an "@ref" string in any id field:
//
//	records:
//	  - entity: owner
//	    ref: acme
//	    fields: {company_name: Acme Logistics}
//	  - entity: vehicle
//	    fields: {owner_id: "@acme", plate: MH12AB1234, capacity_kg: 9000}
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
	"gopkg.in/yaml.v3"
)

// Record is one row to create.
type Record struct {
	Entity string         `yaml:"entity"`
	Ref    string         `yaml:"ref,omitempty"`
	Fields map[string]any `yaml:"fields"`
}

// File is a parsed fixture file.
type File struct {
	Records []Record `yaml:"records"`
}

// Result reports what Seed created.
type Result struct {
	Created map[domain.EntityType]int
	Refs    map[string]int64
}

// Load parses and validates fixtures from r.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	seen := make(map[string]bool)
	for i, rec := range f.Records {
		if _, ok := domain.SchemaFor(domain.EntityType(rec.Entity)); !ok {
			return nil, fmt.Errorf("record %d: unknown entity %q", i+1, rec.Entity)
		}
		if rec.Ref == "" {
			continue
		}
		if seen[rec.Ref] {
			return nil, fmt.Errorf("record %d: duplicate ref %q", i+1, rec.Ref)
		}
		seen[rec.Ref] = true
	}
	return &f, nil
}

// LoadFile parses a fixture file from disk.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

// Seed creates every record in order, resolving "@ref" values to the ids created earlier.
// It stops at the first failure; records created before it remain.
func Seed(ctx context.Context, gw store.Gateway, f *File) (Result, error) {
	res := Result{
		Created: make(map[domain.EntityType]int),
		Refs:    make(map[string]int64),
	}
	for i, rec := range f.Records {
		entity := domain.EntityType(rec.Entity)
		fields, err := resolveRefs(rec.Fields, res.Refs)
		if err != nil {
			return res, fmt.Errorf("record %d (%s): %w", i+1, entity, err)
		}
		created, err := gw.Create(ctx, entity, fields)
		if err != nil {
			return res, fmt.Errorf("record %d (%s): %w", i+1, entity, err)
		}
		res.Created[entity]++
		if rec.Ref != "" {
			res.Refs[rec.Ref] = created.ID()
		}
	}
	return res, nil
}

func resolveRefs(fields map[string]any, refs map[string]int64) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "@") {
			out[k] = v
			continue
		}
		id, ok := refs[strings.TrimPrefix(s, "@")]
		if !ok {
			return nil, fmt.Errorf("field %s: unknown ref %q", k, s)
		}
		out[k] = id
	}
	return out, nil
}
