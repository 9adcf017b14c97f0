package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/erechnung/pkg/erechnung"
)

var (
	genFormat         string
	genProfile        string
	genRoutingID      string
	genBuyerReference string
	genOutDir         string
	genTimeout        time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate [files...]",
	Short: "Generate XRechnung and ZUGFeRD documents",
	Long: `Generate e-invoice documents from JSON invoice snapshots.

Formats:
  - xrechnung: UBL 2.1 XML ({invoiceNumber}_xrechnung.xml)
  - zugferd:   PDF with embedded XML ({invoiceNumber}_zugferd.pdf)
  - both

Examples:
  erechnung generate invoice.json
  erechnung generate invoices/ --format zugferd --profile EXTENDED -d out/
  erechnung generate invoice.json --routing-id 04011000-12345-03`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&genFormat, "format", "both", "Document format (xrechnung, zugferd, both)")
	generateCmd.Flags().StringVar(&genProfile, "profile", "", "ZUGFeRD profile (BASIC, COMFORT/EN16931, EXTENDED) (env: ZUGFERD_PROFILE)")
	generateCmd.Flags().StringVar(&genRoutingID, "routing-id", "", "Leitweg-ID overriding the invoice value")
	generateCmd.Flags().StringVar(&genBuyerReference, "buyer-reference", "", "Buyer reference overriding the invoice value")
	generateCmd.Flags().StringVarP(&genOutDir, "out-dir", "d", ".", "Output directory")
	generateCmd.Flags().DurationVar(&genTimeout, "timeout", 30*time.Second, "Generation timeout per document")
}

func parseFormats(value string) ([]erechnung.Format, error) {
	if strings.EqualFold(strings.TrimSpace(value), "both") || value == "" {
		return []erechnung.Format{erechnung.FormatXRechnung, erechnung.FormatZUGFeRD}, nil
	}
	var formats []erechnung.Format
	for _, part := range strings.Split(value, ",") {
		f, err := erechnung.ParseFormat(part)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	formats, err := parseFormats(genFormat)
	if err != nil {
		return err
	}
	opts := erechnung.GenerateOptions{RoutingID: genRoutingID, BuyerReference: genBuyerReference}
	if genProfile != "" {
		if opts.Profile, err = erechnung.ParseProfile(genProfile); err != nil {
			return err
		}
	}

	invoices, err := loadInvoices(args)
	if err != nil {
		return err
	}
	svc, err := offlineService()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(genOutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tw := newTable(os.Stdout, "INVOICE", "FORMAT", "FILE", "SIZE")
	failed := 0
	for _, inv := range invoices {
		for _, format := range formats {
			path, size, err := generateOne(cmd.Context(), svc, inv, format, opts)
			if err != nil {
				failed++
				fmt.Fprintf(tw, "%s\t%s\tERROR: %v\t\n", inv.InvoiceNumber, format, err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", inv.InvoiceNumber, format, path, size)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d document(s) could not be generated", failed)
	}
	return nil
}

func generateOne(parent context.Context, svc *erechnung.Service, inv *erechnung.Invoice, format erechnung.Format, opts erechnung.GenerateOptions) (string, int, error) {
	ctx, cancel := context.WithTimeout(parent, genTimeout)
	defer cancel()

	art, err := svc.Generate(ctx, inv, format, opts)
	if err != nil {
		return "", 0, err
	}
	path := filepath.Join(genOutDir, art.Filename)
	if err := os.WriteFile(path, art.Content, 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	printVerbose("Wrote %s (%d bytes)\n", path, art.Size)
	return path, art.Size, nil
}
