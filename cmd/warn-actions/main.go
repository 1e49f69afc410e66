// Package main provides a CLI tool for working with W.A.R.N rule tables
// offline: validate rule files, list their mappings, and evaluate what the
// orchestrator would plan for an alert without running the daemon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/srihari-976/W.A.R.N/internal/bridge"
	"github.com/srihari-976/W.A.R.N/internal/orchestrator"
	"github.com/srihari-976/W.A.R.N/internal/risk"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "evaluate":
		runEvaluateCmd(os.Args[2:])
	case "validate":
		runValidateCmd(os.Args[2:])
	case "list":
		runListCmd(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("warn-actions %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: warn-actions <command> [flags] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  evaluate  Print the planned actions for a threat/severity pair or an alert JSON file\n")
	fmt.Fprintf(os.Stderr, "  validate  Validate YAML rule table files or directories\n")
	fmt.Fprintf(os.Stderr, "  list      Print rule table mappings\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runEvaluateCmd(args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	rulesPath := fs.String("rules", "", "Rule table YAML file (default: built-in table)")
	threat := fs.String("threat", "", "Threat type to evaluate")
	severity := fs.String("severity", "", "Severity to evaluate (empty: scored from the record)")
	confidence := fs.String("confidence", "", "Reported confidence, feeds the risk score")
	alertFile := fs.String("alert", "", "Alert record JSON file to evaluate")
	fallback := fs.String("fallback", "log_activity", "Action planned when no rule matches")
	fs.Parse(args)

	if *threat == "" && *alertFile == "" {
		fmt.Fprintf(os.Stderr, "Error: either -threat or -alert is required\n")
		fmt.Fprintf(os.Stderr, "Usage: warn-actions evaluate [-rules file] (-threat type [-severity s] [-confidence c] | -alert file.json)\n")
		os.Exit(1)
	}

	table, err := loadTable(*rulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	in := risk.Input{ThreatType: *threat, Severity: *severity, Confidence: *confidence}
	var meta orchestrator.AlertMeta
	if *alertFile != "" {
		rec, err := loadAlert(*alertFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		in = risk.Input{ThreatType: rec.ThreatType, Severity: rec.Severity, Confidence: rec.Confidence}
		meta = orchestrator.AlertMeta{ID: rec.ID, Description: rec.Description, Timestamp: rec.Timestamp}
		fmt.Printf("Alert:       %s (source=%s, asset=%s)\n", orDash(rec.ID), orDash(rec.Source), orDash(rec.AssetID))
	}

	assessment := risk.NewWeightedScorer().Score(in)
	effective := in.Severity
	severitySource := "reported"
	if effective == "" {
		effective = assessment.Category
		severitySource = "scored"
	}

	fmt.Printf("Threat type: %s\n", in.ThreatType)
	fmt.Printf("Severity:    %s (%s)\n", effective, severitySource)
	fmt.Printf("Risk score:  %.2f\n\n", assessment.Score)

	if _, ok := table.ActionsFor(in.ThreatType, effective); !ok {
		fmt.Printf("No rule matches; planning the fallback action.\n")
	}

	// The same expansion the daemon runs: fallback, severity walk-down, and
	// the notify_security append for high and critical plans.
	orch := orchestrator.New(table, nil, nil, *fallback, nil)
	plan := orch.PlanActions(in.ThreatType, effective, meta, nil)

	fmt.Printf("Planned actions:\n")
	for i, pa := range plan {
		fmt.Printf("  %d. %s\n", i+1, pa.Name)
		for _, k := range sortedKeys(pa.Params) {
			fmt.Printf("       %s=%v\n", k, pa.Params[k])
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runValidateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Show the mappings in each valid file")
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one path is required\n")
		fmt.Fprintf(os.Stderr, "Usage: warn-actions validate [--verbose] <path> [<path>...]\n")
		os.Exit(1)
	}

	os.Exit(runValidate(paths, *verbose))
}

func runListCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		// No file means the built-in table the daemon falls back to.
		printTable(orchestrator.DefaultRuleTable())
		return
	}

	os.Exit(runList(paths))
}

func runValidate(paths []string, verbose bool) int {
	var totalFiles, validFiles, invalidFiles int

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			invalidFiles++
			continue
		}

		if info.IsDir() {
			files, err := collectYAMLFiles(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading directory %s: %v\n", path, err)
				invalidFiles++
				continue
			}
			for _, f := range files {
				totalFiles++
				if validateFile(f, verbose) {
					validFiles++
				} else {
					invalidFiles++
				}
			}
		} else {
			totalFiles++
			if validateFile(path, verbose) {
				validFiles++
			} else {
				invalidFiles++
			}
		}
	}

	fmt.Printf("\nResults: %d files checked, %d valid, %d invalid\n", totalFiles, validFiles, invalidFiles)

	if invalidFiles > 0 {
		return 1
	}
	return 0
}

func validateFile(path string, verbose bool) bool {
	table, err := orchestrator.LoadRuleTable(path)
	if err != nil {
		fmt.Printf("  FAIL  %s: %v\n", path, err)
		return false
	}

	threats := table.Threats()
	fmt.Printf("  OK    %s (%d threat type(s))\n", path, len(threats))

	if verbose {
		for _, threat := range threats {
			for _, sev := range table.Severities(threat) {
				actions, _ := table.ActionsFor(threat, sev)
				fmt.Printf("        - %s/%s: %s\n", threat, sev, strings.Join(actions, ", "))
			}
		}
	}

	return true
}

func runList(paths []string) int {
	code := 0
	for _, path := range paths {
		table, err := orchestrator.LoadRuleTable(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			code = 1
			continue
		}
		printTable(table)
	}
	return code
}

func printTable(table *orchestrator.RuleTable) {
	for _, threat := range table.Threats() {
		for _, sev := range table.Severities(threat) {
			actions, _ := table.ActionsFor(threat, sev)
			fmt.Printf("%-24s  %-10s  %s\n", threat, sev, strings.Join(actions, ", "))
		}
	}
}

func loadTable(path string) (*orchestrator.RuleTable, error) {
	if path == "" {
		return orchestrator.DefaultRuleTable(), nil
	}
	return orchestrator.LoadRuleTable(path)
}

func loadAlert(path string) (*bridge.AlertRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert file: %w", err)
	}
	var rec bridge.AlertRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse alert file %s: %w", path, err)
	}
	bridge.Normalize(&rec)
	return &rec, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func collectYAMLFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
