package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rezonia/erechnung/pkg/erechnung"
)

// collectFiles expands globs and directories into files with one of exts
func collectFiles(args []string, exts ...string) ([]string, error) {
	var files []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}

		if len(matches) == 0 {
			info, err := os.Stat(arg)
			if err != nil {
				return nil, fmt.Errorf("file not found: %s", arg)
			}

			if info.IsDir() {
				nested, err := walkDir(arg, exts)
				if err != nil {
					return nil, err
				}
				files = append(files, nested...)
			} else {
				files = append(files, arg)
			}
		} else {
			for _, match := range matches {
				info, err := os.Stat(match)
				if err != nil {
					continue
				}
				if info.IsDir() {
					nested, err := walkDir(match, exts)
					if err != nil {
						return nil, err
					}
					files = append(files, nested...)
				} else if hasExt(match, exts) {
					files = append(files, match)
				}
			}
		}
	}

	return files, nil
}

func walkDir(dir string, exts []string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && hasExt(path, exts) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// readInvoices reads a JSON file holding one invoice or an array of invoices
func readInvoices(path string) ([]*erechnung.Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decodeInvoices(data)
}

func decodeInvoices(data []byte) ([]*erechnung.Invoice, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty invoice file")
	}
	if trimmed[0] == '[' {
		var list []*erechnung.Invoice
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("invalid invoice list: %w", err)
		}
		return list, nil
	}
	var inv erechnung.Invoice
	if err := json.Unmarshal(trimmed, &inv); err != nil {
		return nil, fmt.Errorf("invalid invoice: %w", err)
	}
	return []*erechnung.Invoice{&inv}, nil
}

// loadInvoices reads every invoice from the given files and directories
func loadInvoices(args []string) ([]*erechnung.Invoice, error) {
	files, err := collectFiles(args, ".json")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no invoice files found")
	}

	var invoices []*erechnung.Invoice
	for _, file := range files {
		list, err := readInvoices(file)
		if err != nil {
			return nil, err
		}
		printVerbose("Loaded %d invoice(s) from %s\n", len(list), file)
		invoices = append(invoices, list...)
	}
	return invoices, nil
}

func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))
	return tw
}
