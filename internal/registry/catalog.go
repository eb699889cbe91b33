package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Catalog file format: a JSON document declaring platforms and their verb
// schemas. Verbs declared in a file never carry local handlers; those are
// registered in code.
//
//	{
//	  "platforms": [
//	    {"name": "xmpp", "verbs": [{"name": "send", "schema": {...}}]}
//	  ]
//	}

type catalogFile struct {
	Platforms []catalogPlatform `json:"platforms"`
}

type catalogPlatform struct {
	Name  string        `json:"name"`
	Local bool          `json:"local"`
	Verbs []catalogVerb `json:"verbs"`
}

type catalogVerb struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// LoadCatalog reads a platform catalog and registers its contents.
func (r *Registry) LoadCatalog(src io.Reader) error {
	var file catalogFile
	if err := json.NewDecoder(src).Decode(&file); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	for _, cp := range file.Platforms {
		platform, err := r.Add(cp.Name, cp.Local)
		if err != nil {
			return err
		}
		for _, cv := range cp.Verbs {
			var schema any
			if len(cv.Schema) > 0 {
				if err := json.Unmarshal(cv.Schema, &schema); err != nil {
					return fmt.Errorf("schema for %s/%s: %w", cp.Name, cv.Name, err)
				}
			}
			if err := platform.AddVerb(cv.Name, schema, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadCatalogFile reads a platform catalog from disk.
func (r *Registry) LoadCatalogFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return r.LoadCatalog(f)
}
