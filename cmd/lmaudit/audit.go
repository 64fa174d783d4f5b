package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/lmaudit/internal/http"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
)

var (
	auditSellerID    string
	auditCategory    string
	auditProductName string
	auditFields      map[string]string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTextCmd)
	auditCmd.AddCommand(auditURLCmd)
	auditCmd.AddCommand(auditImageCmd)
	auditCmd.AddCommand(auditBulkCmd)

	auditCmd.PersistentFlags().StringVar(&auditSellerID, "seller", "", "seller ID recorded on the report")
	auditCmd.PersistentFlags().StringVar(&auditCategory, "category", "", "product category (generic, food, electronics, cosmetics); detected when empty")

	auditTextCmd.Flags().StringVar(&auditProductName, "name", "", "product name")
	auditTextCmd.Flags().StringToStringVar(&auditFields, "field", nil, "declared field value, e.g. --field mrp='Rs. 99' (repeatable)")
}

// auditCmd is the parent command for single-product audits
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit a product listing",
}

var auditTextCmd = &cobra.Command{
	Use:   "text [file]",
	Short: "Audit label text from a file or stdin",
	Long: `Audit product label text read from a file or stdin.

Examples:
  # Audit a label transcript
  lmaudit audit text label.txt --seller s-42 --category food

  # Audit declared fields only
  lmaudit audit text --seller s-42 --field net_quantity='500 g' --field mrp='Rs. 99' < /dev/null`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditText,
}

var auditURLCmd = &cobra.Command{
	Use:   "url <product-url>",
	Short: "Scrape and audit a marketplace product page",
	Long: `Fetch a product page, OCR its label images and audit it.

Examples:
  lmaudit audit url https://www.amazon.in/dp/B0EXAMPLE --seller s-42`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditURL,
}

var auditImageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Audit a label photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditImage,
}

var auditBulkCmd = &cobra.Command{
	Use:   "bulk <url>...",
	Short: "Start a bulk audit task over explicit product URLs",
	Long: `Start a background task auditing each URL. Follow it with 'lmaudit task watch'.

Examples:
  lmaudit audit bulk https://www.flipkart.com/p/itm1 https://www.flipkart.com/p/itm2 --seller s-42`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAuditBulk,
}

func runAuditText(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	if len(text) == 0 && len(auditFields) == 0 {
		return fmt.Errorf("no label text or fields to audit")
	}

	rep, err := newClient().Audit(cmd.Context(), httpapi.AuditRequest{
		SellerID:    auditSellerID,
		ProductName: auditProductName,
		Category:    auditCategory,
		Text:        string(text),
		Fields:      auditFields,
	})
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), rep)
}

func runAuditURL(cmd *cobra.Command, args []string) error {
	rep, err := newClient().AuditURL(cmd.Context(), httpapi.URLAuditRequest{
		URL:      args[0],
		SellerID: auditSellerID,
		Category: auditCategory,
	})
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), rep)
}

func runAuditImage(cmd *cobra.Command, args []string) error {
	rep, err := newClient().AuditImage(cmd.Context(), args[0], auditSellerID, auditCategory)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), rep)
}

func runAuditBulk(cmd *cobra.Command, args []string) error {
	accepted, err := newClient().SubmitBulk(cmd.Context(), httpapi.BulkAuditRequest{
		URLs:     args,
		SellerID: auditSellerID,
		Category: auditCategory,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), accepted)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s (%d URLs)\n", accepted.TaskID, accepted.Status, len(args))
	return nil
}

// readInput reads args[0], or stdin when there is no argument or it is "-".
func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, nil
}

func printReport(w io.Writer, rep *report.AuditReport) error {
	if jsonOutput {
		return printJSON(w, rep)
	}

	fmt.Fprintf(w, "Product:    %s\n", rep.ProductID)
	if rep.ProductName != "" {
		fmt.Fprintf(w, "Name:       %s\n", rep.ProductName)
	}
	if rep.SourceURL != "" {
		fmt.Fprintf(w, "URL:        %s\n", rep.SourceURL)
	}
	fmt.Fprintf(w, "Category:   %s\n", rep.Category)
	fmt.Fprintf(w, "Score:      %d/100 (%s)\n", rep.ComplianceScore, rep.RiskLevel)
	fmt.Fprintf(w, "Rules:      %s\n", rep.RuleVersion)

	if len(rep.Violations) == 0 {
		fmt.Fprintln(w, "\nNo violations.")
	} else {
		fmt.Fprintf(w, "\nViolations (%d):\n", len(rep.Violations))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  CODE\tFIELD\tPENALTY\tMESSAGE")
		for _, v := range rep.Violations {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", v.Code, v.Field, v.Penalty, v.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if rep.RiskSummary != nil {
		fmt.Fprintf(w, "\nSummary: %s\n", *rep.RiskSummary)
	}
	if rep.SuggestedCorrection != nil {
		fmt.Fprintf(w, "Suggested correction: %s\n", *rep.SuggestedCorrection)
	}
	if rep.Enrichment.Status == report.EnrichmentUnavailable {
		fmt.Fprintln(w, "\n(explanations unavailable)")
	}
	return nil
}
