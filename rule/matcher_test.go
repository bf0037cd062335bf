package rule

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fukusuket/macos-log-dfir/record"
)

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func TestMatcherExactIsCaseInsensitive(t *testing.T) {
	m, errs := NewMatcher([]string{"process"}, scalarNode("loginwindow"))
	require.Empty(t, errs)
	require.True(t, m.Match("LoginWindow", true, record.MapRecord{}))
	require.False(t, m.Match("loginwindow2", true, record.MapRecord{}))
}

func TestMatcherStartsWith(t *testing.T) {
	m, errs := NewMatcher([]string{"process|startswith"}, scalarNode("/usr/sbin/"))
	require.Empty(t, errs)
	require.True(t, m.Match("/usr/sbin/cfprefsd", true, record.MapRecord{}))
	require.False(t, m.Match("/bin/sh", true, record.MapRecord{}))
}

func TestMatcherEndsWith(t *testing.T) {
	m, errs := NewMatcher([]string{"process|endswith"}, scalarNode("sshd"))
	require.Empty(t, errs)
	require.True(t, m.Match("/usr/sbin/sshd", true, record.MapRecord{}))
	require.False(t, m.Match("/usr/sbin/sshd-extra", true, record.MapRecord{}))
}

func TestMatcherContains(t *testing.T) {
	m, errs := NewMatcher([]string{"message|contains"}, scalarNode("authentication failure"))
	require.Empty(t, errs)
	require.True(t, m.Match("PAM: authentication failure for root", true, record.MapRecord{}))
	require.False(t, m.Match("all good", true, record.MapRecord{}))
}

func TestMatcherWildcard(t *testing.T) {
	m, errs := NewMatcher([]string{"process"}, scalarNode("*/sbin/*"))
	require.Empty(t, errs)
	require.True(t, m.Match("/usr/sbin/sshd", true, record.MapRecord{}))
	require.False(t, m.Match("/usr/bin/env", true, record.MapRecord{}))
}

func TestMatcherNullPatternNeverMatches(t *testing.T) {
	m, errs := NewMatcher([]string{"process"}, nullNode())
	require.Empty(t, errs)
	require.False(t, m.Match("anything", true, record.MapRecord{}))
	require.False(t, m.Match("", false, record.MapRecord{}))
}

func TestMatcherMissingFieldNeverMatches(t *testing.T) {
	m, errs := NewMatcher([]string{"process"}, scalarNode("sshd"))
	require.Empty(t, errs)
	require.False(t, m.Match("", false, record.MapRecord{}))
}

func TestMatcherCidr(t *testing.T) {
	m, errs := NewMatcher([]string{"process|cidr"}, scalarNode("10.0.0.0/8"))
	require.Empty(t, errs)
	require.True(t, m.Match("10.1.2.3", true, record.MapRecord{}))
	require.False(t, m.Match("192.168.1.1", true, record.MapRecord{}))
	require.False(t, m.Match("not-an-ip", true, record.MapRecord{}))
}

func TestMatcherCidrInvalidNetworkNeverMatches(t *testing.T) {
	m, errs := NewMatcher([]string{"process|cidr"}, scalarNode("not-a-cidr"))
	require.Empty(t, errs)
	require.False(t, m.Match("10.1.2.3", true, record.MapRecord{}))
}

func TestMatcherRegexPipe(t *testing.T) {
	m, errs := NewMatcher([]string{"process|re"}, scalarNode(`sshd\[\d+\]`))
	require.Empty(t, errs)
	require.True(t, m.Match(`sshd[1234]`, true, record.MapRecord{}))
	require.False(t, m.Match(`sshd[abcd]`, true, record.MapRecord{}))
}

func TestMatcherBase64OffsetContains(t *testing.T) {
	m, errs := NewMatcher([]string{"message|base64offset|contains"}, scalarNode("secret"))
	require.Empty(t, errs)
	require.NotEmpty(t, m.fast)
}

func TestMatcherUnknownPipeIsCompileError(t *testing.T) {
	_, errs := NewMatcher([]string{"process|bogus"}, scalarNode("x"))
	require.NotEmpty(t, errs)
}

func TestMatcherMultiplePipesError(t *testing.T) {
	_, errs := NewMatcher([]string{"process|startswith|endswith|contains"}, scalarNode("x"))
	require.NotEmpty(t, errs)
}

func TestMatcherLeadingPipeAllRewrittenToAllOnly(t *testing.T) {
	m, errs := NewMatcher([]string{"|all"}, scalarNode("exact"))
	require.Empty(t, errs)
	require.Len(t, m.fast, 1)
	require.Equal(t, fmAllOnly, m.fast[0].kind)
}
