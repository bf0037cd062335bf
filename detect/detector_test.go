package detect_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fukusuket/macos-log-dfir/detect"
	"github.com/fukusuket/macos-log-dfir/record"
	"github.com/fukusuket/macos-log-dfir/rule"
)

func mustCompile(t *testing.T, src string) *rule.Rule {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	r, errs := rule.Compile("test.yml", &doc)
	require.Empty(t, errs)
	return r
}

func TestDetectorPreservesRuleOrder(t *testing.T) {
	r1 := mustCompile(t, "title: r1\ndetection:\n  sel:\n    process: sshd\n")
	r2 := mustCompile(t, "title: r2\ndetection:\n  sel:\n    process: sshd\n")

	d := detect.NewDetector([]*rule.Rule{r1, r2})
	dets := d.Detect(context.Background(), record.MapRecord{"process": "sshd"})

	require.Len(t, dets, 2)
	require.Equal(t, "r1", dets[0].Rule.Title)
	require.Equal(t, "r2", dets[1].Rule.Title)
}

func TestDetectorNoMatches(t *testing.T) {
	r1 := mustCompile(t, "title: r1\ndetection:\n  sel:\n    process: sshd\n")

	d := detect.NewDetector([]*rule.Rule{r1})
	dets := d.Detect(context.Background(), record.MapRecord{"process": "bash"})

	require.Empty(t, dets)
}

func TestDetectAllFromChannel(t *testing.T) {
	r1 := mustCompile(t, "title: r1\ndetection:\n  sel:\n    process: sshd\n")
	d := detect.NewDetector([]*rule.Rule{r1})

	records := make(chan record.LogRecord, 2)
	records <- record.MapRecord{"process": "sshd"}
	records <- record.MapRecord{"process": "bash"}
	close(records)

	dets := d.DetectAll(context.Background(), records)
	require.Len(t, dets, 1)
}

func TestDetectorReportsMatchedTitlesInRuleOrder(t *testing.T) {
	r1 := mustCompile(t, "title: auth failure\ndetection:\n  sel:\n    process: sshd\n")
	r2 := mustCompile(t, "title: root login\ndetection:\n  sel:\n    euid: \"0\"\n")
	r3 := mustCompile(t, "title: unrelated\ndetection:\n  sel:\n    process: cron\n")

	d := detect.NewDetector([]*rule.Rule{r1, r2, r3})
	dets := d.Detect(context.Background(), record.MapRecord{"process": "sshd", "euid": "0"})

	var got []string
	for _, det := range dets {
		got = append(got, det.Rule.Title)
	}
	want := []string{"auth failure", "root login"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("matched titles mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectorCancelledContextStopsEarly(t *testing.T) {
	r1 := mustCompile(t, "title: r1\ndetection:\n  sel:\n    process: sshd\n")
	d := detect.NewDetector([]*rule.Rule{r1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dets := d.Detect(ctx, record.MapRecord{"process": "sshd"})
	require.Empty(t, dets)
}
