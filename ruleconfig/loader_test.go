package ruleconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fukusuket/macos-log-dfir/record"
	"github.com/fukusuket/macos-log-dfir/ruleconfig"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirCompilesValidRulesAndCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yml", "title: good\ndetection:\n  sel:\n    process: sshd\n")
	writeFile(t, dir, "bad.yml", "title: bad\ndetection:\n  sel:\n    process: sshd\n  condition: sel and missing\n")
	writeFile(t, dir, "notes.txt", "not a rule")

	rules, loadErrs, err := ruleconfig.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "good", rules[0].Title)
	require.Len(t, loadErrs, 1)
	require.Contains(t, loadErrs[0].Path, "bad.yml")

	require.True(t, rules[0].Evaluate(record.MapRecord{"process": "sshd"}))
}

func TestLoadDirWalksSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeFile(t, sub, "nested.yaml", "title: nested\ndetection:\n  sel:\n    process: sshd\n")

	rules, loadErrs, err := ruleconfig.LoadDir(dir)
	require.NoError(t, err)
	require.Empty(t, loadErrs)
	require.Len(t, rules, 1)
	require.Equal(t, "nested", rules[0].Title)
}
