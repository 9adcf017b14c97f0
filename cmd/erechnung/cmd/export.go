package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/erechnung/pkg/erechnung"
)

var (
	expOutput      string
	expFormats     string
	expFolders     bool
	expMetadata    bool
	expProfile     string
	expConcurrency int
	expDryRun      bool
	expTimeout     time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export [files...]",
	Short: "Export invoices as a zip archive",
	Long: `Generate every requested format for every invoice and bundle the results
in one zip archive with a batch_summary.json manifest. Failures of single
invoices are recorded in the manifest and do not stop the batch.

Examples:
  erechnung export invoices/ -o batch.zip
  erechnung export invoices/*.json --formats xrechnung --folders --metadata
  erechnung export invoices/ --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&expOutput, "output", "o", "", "Archive path (default: erechnung_batch_<id>.zip)")
	exportCmd.Flags().StringVar(&expFormats, "formats", "both", "Formats (xrechnung, zugferd, both or comma separated)")
	exportCmd.Flags().BoolVar(&expFolders, "folders", false, "Group files in xrechnung/, zugferd/ and metadata/")
	exportCmd.Flags().BoolVar(&expMetadata, "metadata", false, "Add one JSON sidecar per invoice")
	exportCmd.Flags().StringVar(&expProfile, "profile", "", "ZUGFeRD profile (env: ZUGFERD_PROFILE)")
	exportCmd.Flags().IntVar(&expConcurrency, "concurrency", 0, "Parallel generations (env: EXPORT_CONCURRENCY)")
	exportCmd.Flags().BoolVar(&expDryRun, "dry-run", false, "Only check the batch and estimate its size")
	exportCmd.Flags().DurationVar(&expTimeout, "timeout", 10*time.Minute, "Export timeout")
}

func runExport(cmd *cobra.Command, args []string) error {
	formats, err := parseFormats(expFormats)
	if err != nil {
		return err
	}
	opts := erechnung.ExportOptions{
		Formats:     formats,
		Folders:     expFolders,
		Metadata:    expMetadata,
		Concurrency: expConcurrency,
	}
	if expProfile != "" {
		if opts.Profile, err = erechnung.ParseProfile(expProfile); err != nil {
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

	if expDryRun {
		return printDryRun(svc.ValidateBatch(invoices, opts))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), expTimeout)
	defer cancel()

	job, err := svc.ExportBatch(ctx, invoices, opts)
	if err != nil {
		return err
	}

	path := expOutput
	if path == "" {
		path = "erechnung_batch_" + job.ID + ".zip"
	}
	if err := os.WriteFile(path, job.Archive, 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	if outputFormat == "json" {
		if err := outputJSON(os.Stdout, job.Manifest); err != nil {
			return err
		}
	} else {
		fmt.Printf("Archive:   %s (%d bytes)\n", path, len(job.Archive))
		fmt.Printf("Invoices:  %d processed, %d failed\n", job.ProcessedInvoices, job.FailedInvoices)
		fmt.Printf("Files:     %d (%d bytes)\n", job.SuccessfulFiles, job.TotalSize)
		fmt.Printf("Duration:  %s\n", job.Duration.Round(time.Millisecond))
		for _, e := range job.Errors {
			fmt.Printf("  ✗ %s: %s\n", e.InvoiceNumber, e.Error)
		}
	}

	if err := job.Err(); err != nil {
		return fmt.Errorf("export finished with failures: %w", err)
	}
	return nil
}

func printDryRun(v *erechnung.BatchValidation) error {
	if outputFormat == "json" {
		if err := outputJSON(os.Stdout, v); err != nil {
			return err
		}
	} else {
		tw := newTable(os.Stdout, "SEVERITY", "INVOICE", "ISSUE")
		for _, issue := range v.Issues {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", issue.Severity, issue.InvoiceNumber, issue.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nEstimated size: %d bytes, estimated time: %s\n", v.EstimatedSize, v.EstimatedTime.Round(time.Millisecond))
	}
	if !v.CanExport {
		return fmt.Errorf("batch cannot be exported")
	}
	return nil
}
