// Package ruleconfig loads detection rules from a directory of Sigma-dialect
// YAML files on disk — the loading step SPEC_FULL.md §2 calls out as
// outside the core engine's scope, but still needed to make the engine
// runnable from the CLI.
package ruleconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fukusuket/macos-log-dfir/rule"
)

// LoadDir walks dir for *.yml/*.yaml files, compiling each one into a
// *rule.Rule. A file that fails to parse or compile is recorded as a
// RuleLoadError and excluded from the returned slice; it never aborts the
// walk (SPEC_FULL.md §7: compilation is all-or-nothing per rule, other
// rules are unaffected).
func LoadDir(dir string) ([]*rule.Rule, []rule.RuleLoadError, error) {
	var rules []*rule.Rule
	var loadErrs []rule.RuleLoadError

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "walking %s", path)
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			loadErrs = append(loadErrs, rule.RuleLoadError{Path: path, Errors: []string{err.Error()}})
			return nil
		}

		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			loadErrs = append(loadErrs, rule.RuleLoadError{Path: path, Errors: []string{err.Error()}})
			return nil
		}

		r, errs := rule.Compile(path, &doc)
		if len(errs) > 0 {
			loadErrs = append(loadErrs, rule.RuleLoadError{Path: path, Errors: errs})
			return nil
		}

		rules = append(rules, r)
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading rules from %s", dir)
	}

	return rules, loadErrs, nil
}
