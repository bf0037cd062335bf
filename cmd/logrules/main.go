// Command logrules wires ruleconfig -> detect -> sourceio into a runnable
// CLI: compile a directory of detection rules, evaluate them against a
// JSONL log fixture, and write matches as a CSV timeline.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	sglog "github.com/sourcegraph/log"

	"github.com/fukusuket/macos-log-dfir/detect"
	"github.com/fukusuket/macos-log-dfir/ruleconfig"
	"github.com/fukusuket/macos-log-dfir/sourceio"
)

func main() {
	rulesDir := flag.String("rules", "", "directory of detection rule YAML files")
	input := flag.String("input", "", "path to a JSONL log record fixture")
	output := flag.String("output", "", "path to write the CSV detection timeline (default: stdout)")
	flag.Parse()

	liblog := sglog.Init(sglog.Resource{Name: "logrules", Version: "dev"})
	defer liblog.Sync()
	logger := sglog.Scoped("logrules", "detection rule CLI")

	if *rulesDir == "" || *input == "" {
		logger.Error("missing required flags", sglog.String("rules", *rulesDir), sglog.String("input", *input))
		flag.Usage()
		os.Exit(2)
	}

	if err := run(logger, *rulesDir, *input, *output); err != nil {
		logger.Error("fatal error", sglog.Error(err))
		os.Exit(1)
	}
}

func run(logger sglog.Logger, rulesDir, input, output string) error {
	rules, loadErrs, err := ruleconfig.LoadDir(rulesDir)
	if err != nil {
		return err
	}
	for _, le := range loadErrs {
		logger.Warn("rule failed to compile", sglog.String("path", le.Path), sglog.String("errors", strings.Join(le.Errors, "; ")))
	}
	logger.Info("rules loaded", sglog.Int("compiled", len(rules)), sglog.Int("failed", len(loadErrs)))

	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	out := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	ctx := context.Background()
	source := sourceio.NewJSONLSource(in)
	records, srcErrs := source.Records(ctx)

	d := detect.NewDetector(rules)
	writer := sourceio.NewDetectionWriter(out)

	count := 0
	for rec := range records {
		for _, det := range d.Detect(ctx, rec) {
			if err := writer.Write(det); err != nil {
				return err
			}
			count++
		}
	}
	if err := <-srcErrs; err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	logger.Info("detection complete", sglog.Int("detections", count))
	return nil
}
