// Package config loads YAML configuration with an "extends" base-file
// overlay mechanism and gopkg.in/validator.v2 struct tag validation.
//
// Grounded on github.com/uber/kraken's utils/configutil package: files
// form a chain via a top-level "extends: <path>" key (relative to the
// referencing file's directory), are deep-merged from the oldest
// ancestor down to the requested file, and only the fully merged result
// is validated — a field satisfied by an ancestor need not be repeated
// in every descendant.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned when an "extends" chain refers back to a file
// already in the chain.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps a gopkg.in/validator.v2 field-error map, produced
// once the fully merged configuration fails validation.
type ValidationError struct {
	errs validator.ErrorMap
}

func (e ValidationError) Error() string {
	return e.errs.Error()
}

// ErrForField returns the validation errors attached to the named struct
// field, or nil if the field passed validation.
func (e ValidationError) ErrForField(field string) validator.ErrorArray {
	return e.errs[field]
}

// Load resolves filename's "extends" chain and merges it into config,
// validating only the final merged result.
func Load(filename string, config interface{}) error {
	filenames, err := resolveExtends(filename, readExtendsField)
	if err != nil {
		return err
	}
	return loadFiles(config, filenames)
}

// resolveExtends walks filename's "extends" chain via readExtends,
// returning the chain ordered from the oldest ancestor to filename
// itself. A relative extends target is resolved against the directory of
// the file that named it.
func resolveExtends(filename string, readExtends func(string) (string, error)) ([]string, error) {
	visited := map[string]struct{}{filename: {}}
	chain := []string{filename}
	current := filename

	for {
		raw, err := readExtends(current)
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		target := raw
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		if _, ok := visited[target]; ok {
			return nil, ErrCycleRef
		}
		visited[target] = struct{}{}
		chain = append([]string{target}, chain...)
		current = target
	}
	return chain, nil
}

type extendsStub struct {
	Extends string `yaml:"extends"`
}

func readExtendsField(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	var stub extendsStub
	if err := yaml.Unmarshal(data, &stub); err != nil {
		return "", fmt.Errorf("invalid yaml in %s: %s", filename, err)
	}
	return stub.Extends, nil
}

// loadFiles deep-merges the YAML trees of filenames, in order, into
// config and validates the merged result once.
func loadFiles(config interface{}, filenames []string) error {
	merged := map[interface{}]interface{}{}
	for _, fn := range filenames {
		data, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		var m map[interface{}]interface{}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("invalid yaml in %s: %s", fn, err)
		}
		merged = mergeMaps(merged, m)
	}
	delete(merged, "extends")

	data, err := yaml.Marshal(merged)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return err
	}

	if err := validator.Validate(config); err != nil {
		if verr, ok := err.(validator.ErrorMap); ok {
			return ValidationError{errs: verr}
		}
		return err
	}
	return nil
}

// mergeMaps merges override into base, recursing into nested mappings so
// a descendant file need only specify the keys it changes.
func mergeMaps(base, override map[interface{}]interface{}) map[interface{}]interface{} {
	out := make(map[interface{}]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if existing, ok := out[k]; ok {
			if existingMap, ok1 := existing.(map[interface{}]interface{}); ok1 {
				if overrideMap, ok2 := v.(map[interface{}]interface{}); ok2 {
					out[k] = mergeMaps(existingMap, overrideMap)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}
