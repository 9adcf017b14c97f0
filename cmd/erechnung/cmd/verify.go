package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/erechnung/internal/signature"
	"github.com/rezonia/erechnung/internal/signature/trust"
	xmlsig "github.com/rezonia/erechnung/internal/signature/xml"
)

var (
	caFile   string
	skipOCSP bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [files...]",
	Short: "Verify XML signatures of received invoices",
	Long: `Verify XMLDSig signatures on XRechnung documents.

Verifies:
  - Signature validity (cryptographic verification)
  - Certificate chain (to the roots in --ca-file or TRUST_STORE_PEM)
  - Certificate revocation (OCSP, unless --skip-ocsp)
  - Signer information

Examples:
  erechnung verify invoice.xml --ca-file roots.pem
  erechnung verify received/ --skip-ocsp -f json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&caFile, "ca-file", "", "Trusted CA certificates (PEM) (env: TRUST_STORE_PEM)")
	verifyCmd.Flags().BoolVar(&skipOCSP, "skip-ocsp", false, "Do not fail when OCSP is unreachable")
}

// VerifyResult holds the signature check of one file
type VerifyResult struct {
	File string `json:"file"`
	*signature.Report
	Error string `json:"error,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args, ".xml")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to verify")
	}

	pem := firstNonEmpty(caFile, cfg.TrustStorePEM)
	if pem == "" {
		return fmt.Errorf("no trusted certificates: pass --ca-file or set TRUST_STORE_PEM")
	}
	opts := []trust.Option{trust.WithPEMFile(pem)}
	if skipOCSP {
		opts = append(opts, trust.WithSoftFail())
	}
	roots, err := trust.NewStore(opts...)
	if err != nil {
		return fmt.Errorf("failed to load trusted roots: %w", err)
	}
	verifier := xmlsig.NewVerifier(roots)

	results := make([]*VerifyResult, 0, len(files))
	allValid := true
	for _, file := range files {
		printVerbose("Verifying: %s\n", file)
		r := verifyFile(cmd.Context(), verifier, file)
		results = append(results, r)
		if r.Report == nil || !r.Valid {
			allValid = false
		}
	}

	if outputFormat == "json" {
		if err := outputJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		printVerify(results)
	}

	if !allValid {
		return fmt.Errorf("verification failed for some files")
	}
	return nil
}

func verifyFile(parent context.Context, verifier signature.Verifier, file string) *VerifyResult {
	ctx, cancel := context.WithTimeout(parent, 60*time.Second)
	defer cancel()

	data, err := os.ReadFile(file)
	if err != nil {
		return &VerifyResult{File: file, Error: fmt.Sprintf("failed to read file: %v", err)}
	}
	report, err := verifier.Verify(ctx, data)
	if err != nil {
		return &VerifyResult{File: file, Error: err.Error()}
	}
	return &VerifyResult{File: file, Report: report}
}

func mark(c signature.Check) string {
	switch c {
	case signature.CheckPassed:
		return "✓"
	case signature.CheckFailed:
		return "✗"
	default:
		return "-"
	}
}

func printVerify(results []*VerifyResult) {
	for _, r := range results {
		if r.Report == nil {
			fmt.Printf("✗ %s: %s\n", r.File, r.Error)
			continue
		}
		if r.Valid {
			fmt.Printf("✓ %s: VALID\n", r.File)
		} else {
			fmt.Printf("✗ %s: INVALID\n", r.File)
		}

		if r.Signer != nil {
			fmt.Printf("  Signer: %s\n", r.Signer.Name)
			if r.Signer.Organization != "" {
				fmt.Printf("  Org:    %s\n", r.Signer.Organization)
			}
			if r.Signer.Issuer != "" {
				fmt.Printf("  Issuer: %s\n", r.Signer.Issuer)
			}
		}
		if r.SignedAt != nil {
			fmt.Printf("  Signed: %s\n", r.SignedAt.Format(time.RFC3339))
		}

		fmt.Printf("  Integrity:  %s\n", mark(r.Integrity))
		fmt.Printf("  Trust:      %s\n", mark(r.Trust))
		fmt.Printf("  Revocation: %s\n", mark(r.Revocation))

		for _, p := range r.Problems {
			if p.Note {
				fmt.Printf("  ⚠ %s\n", p.Message)
			} else {
				fmt.Printf("  ✗ [%s] %s\n", p.Code, p.Message)
			}
		}
	}
}
