package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/erechnung/pkg/erechnung"
)

var (
	valStandard string
	valExplain  bool
	valStrict   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Check invoices against XRechnung and ZUGFeRD rules",
	Long: `Validate JSON invoice snapshots or received XRechnung XML documents.

JSON files are checked with the full rule set (structure, content, tax, format,
business). XML files are checked structurally and, when TRUST_STORE_PEM is set,
their XML signature is verified.

Examples:
  erechnung validate invoice.json
  erechnung validate invoices/ --standard zugferd -f json
  erechnung validate received.xml
  erechnung validate invoice.json --explain   # needs LLM_API_KEY`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&valStandard, "standard", "both", "Standard (xrechnung, zugferd, both)")
	validateCmd.Flags().BoolVar(&valExplain, "explain", false, "Ask the remediation advisor how to fix findings")
	validateCmd.Flags().BoolVar(&valStrict, "strict", false, "Treat warnings as failures")
}

// ValidationResult is the outcome for one invoice or document
type ValidationResult struct {
	File          string                      `json:"file"`
	InvoiceNumber string                      `json:"invoiceNumber,omitempty"`
	Report        *erechnung.ComplianceReport `json:"report,omitempty"`
	Remediation   *erechnung.Remediation      `json:"remediation,omitempty"`
	Error         string                      `json:"error,omitempty"`
}

func (r *ValidationResult) passed() bool {
	if r.Error != "" || r.Report == nil || !r.Report.Valid() {
		return false
	}
	return !valStrict || r.Report.WarningCount == 0
}

func runValidate(cmd *cobra.Command, args []string) error {
	standard, err := erechnung.ParseStandard(valStandard)
	if err != nil {
		return err
	}
	files, err := collectFiles(args, ".json", ".xml")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to validate")
	}

	svc, err := offlineService()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	var results []*ValidationResult
	for _, file := range files {
		printVerbose("Validating: %s\n", file)
		results = append(results, validateFile(ctx, svc, file, standard)...)
	}

	allValid := true
	for _, r := range results {
		if !r.passed() {
			allValid = false
		}
	}

	if outputFormat == "json" {
		if err := outputJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		printValidation(results)
	}

	if !allValid {
		return fmt.Errorf("validation failed for some invoices")
	}
	return nil
}

func validateFile(ctx context.Context, svc *erechnung.Service, file string, standard erechnung.Standard) []*ValidationResult {
	if strings.EqualFold(filepath.Ext(file), ".xml") {
		data, err := os.ReadFile(file)
		if err != nil {
			return []*ValidationResult{{File: file, Error: fmt.Sprintf("failed to read file: %v", err)}}
		}
		return []*ValidationResult{{File: file, Report: svc.ValidateXML(ctx, data)}}
	}

	invoices, err := readInvoices(file)
	if err != nil {
		return []*ValidationResult{{File: file, Error: err.Error()}}
	}
	results := make([]*ValidationResult, 0, len(invoices))
	for _, inv := range invoices {
		r := &ValidationResult{File: file, InvoiceNumber: inv.InvoiceNumber}
		r.Report = svc.Validate(ctx, inv, standard)
		if valExplain && len(r.Report.Issues) > 0 {
			remediation, err := svc.Explain(ctx, inv, r.Report)
			switch {
			case errors.Is(err, erechnung.ErrAdvisorDisabled):
				printVerbose("  advisor disabled, set LLM_API_KEY\n")
			case err != nil:
				r.Error = fmt.Sprintf("advisor: %v", err)
			default:
				r.Remediation = remediation
			}
		}
		results = append(results, r)
	}
	return results
}

func printValidation(results []*ValidationResult) {
	for _, r := range results {
		label := r.File
		if r.InvoiceNumber != "" {
			label += " [" + r.InvoiceNumber + "]"
		}
		if r.Report == nil {
			fmt.Printf("✗ %s: ERROR %s\n", label, r.Error)
			continue
		}
		if r.passed() {
			fmt.Printf("✓ %s: VALID (score %d)\n", label, r.Report.Score)
		} else {
			fmt.Printf("✗ %s: INVALID (score %d)\n", label, r.Report.Score)
		}
		fmt.Printf("  XRechnung: %s  ZUGFeRD: %s\n",
			certified(r.Report.Certification.XRechnung), certified(r.Report.Certification.ZUGFeRD))
		for _, issue := range r.Report.Issues {
			fmt.Printf("  - [%s] %s %s: %s\n", issue.Severity, issue.RuleID, issue.RuleName, issue.Message)
			if issue.SuggestedFix != "" {
				fmt.Printf("      fix: %s\n", issue.SuggestedFix)
			}
		}
		if r.Remediation != nil {
			fmt.Printf("  Advisor: %s\n", r.Remediation.Summary)
			for _, a := range r.Remediation.Advice {
				fmt.Printf("    %s: %s\n", a.RuleID, a.Explanation)
				for _, step := range a.Steps {
					fmt.Printf("      • %s\n", step)
				}
			}
		}
		if r.Error != "" {
			fmt.Printf("  ⚠ %s\n", r.Error)
		}
	}
}

func certified(ok bool) string {
	if ok {
		return "certified"
	}
	return "not certified"
}
