package sourceio_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fukusuket/macos-log-dfir/detect"
	"github.com/fukusuket/macos-log-dfir/record"
	"github.com/fukusuket/macos-log-dfir/rule"
	"github.com/fukusuket/macos-log-dfir/sourceio"
	"gopkg.in/yaml.v3"
)

func TestJSONLSourceStreamsRecords(t *testing.T) {
	input := strings.NewReader(`{"process":"sshd","euid":"0"}
{"process":"bash","euid":"501"}
`)
	src := sourceio.NewJSONLSource(input)
	records, errs := src.Records(context.Background())

	var got []record.LogRecord
	for rec := range records {
		got = append(got, rec)
	}
	require.NoError(t, <-errs)
	require.Len(t, got, 2)

	v, ok := got[0].Field("process")
	require.True(t, ok)
	require.Equal(t, "sshd", v)
}

func TestJSONLSourceReportsMalformedLine(t *testing.T) {
	input := strings.NewReader("not json\n")
	src := sourceio.NewJSONLSource(input)
	records, errs := src.Records(context.Background())

	for range records {
	}
	require.Error(t, <-errs)
}

func TestDetectionWriterWritesHeaderAndRows(t *testing.T) {
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("title: sshd login\nlevel: medium\ndetection:\n  sel:\n    process: sshd\n"), &doc))
	r, errs := rule.Compile("sshd.yml", &doc)
	require.Empty(t, errs)

	var buf bytes.Buffer
	w := sourceio.NewDetectionWriter(&buf)
	require.NoError(t, w.Write(detect.Detection{Rule: r, Record: record.MapRecord{"process": "sshd"}}))
	require.NoError(t, w.Flush())

	out := buf.String()
	require.Contains(t, out, "rule_path,rule_title,rule_level")
	require.Contains(t, out, "sshd.yml,sshd login,medium")
}
