package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	reportsRisk     string
	reportsMinScore int
	reportsMaxScore int
	reportsFrom     string
	reportsTo       string
	reportsSeller   string
	reportsCategory string
	reportsLimit    int
	reportsOffset   int
	exportOutput    string
)

func init() {
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(summaryCmd)
	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsGetCmd)
	reportsCmd.AddCommand(reportsExportCmd)

	for _, c := range []*cobra.Command{reportsListCmd, reportsExportCmd} {
		c.Flags().StringVar(&reportsRisk, "risk", "", "risk level (compliant, moderate_risk, high_risk)")
		c.Flags().IntVar(&reportsMinScore, "min-score", -1, "minimum compliance score")
		c.Flags().IntVar(&reportsMaxScore, "max-score", -1, "maximum compliance score")
		c.Flags().StringVar(&reportsFrom, "from", "", "earliest audit date (YYYY-MM-DD or RFC 3339)")
		c.Flags().StringVar(&reportsTo, "to", "", "latest audit date (YYYY-MM-DD or RFC 3339)")
		c.Flags().StringVar(&reportsSeller, "seller", "", "seller ID")
		c.Flags().StringVar(&reportsCategory, "category", "", "product category")
	}
	reportsListCmd.Flags().IntVar(&reportsLimit, "limit", 50, "page size")
	reportsListCmd.Flags().IntVar(&reportsOffset, "offset", 0, "page offset")
	reportsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write CSV to a file instead of stdout")
}

// reportsCmd is the parent command for stored audit reports
var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Query stored audit reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports, newest first",
	Long: `List stored audit reports matching the filters, newest first.

Examples:
  # High risk food products
  lmaudit reports list --risk high_risk --category food

  # Scores below 60 audited in March
  lmaudit reports list --max-score 59 --from 2026-03-01 --to 2026-03-31`,
	Args: cobra.NoArgs,
	RunE: runReportsList,
}

var reportsGetCmd = &cobra.Command{
	Use:   "get <product-id>",
	Short: "Show one report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsGet,
}

var reportsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching reports as CSV",
	Args:  cobra.NoArgs,
	RunE:  runReportsExport,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List audit categories and their rule counts",
	Args:  cobra.NoArgs,
	RunE:  runCategories,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show compliance totals across all reports",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

// reportQuery builds the filter query string from the command's flags.
func reportQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("risk_level", reportsRisk)
	set("from", reportsFrom)
	set("to", reportsTo)
	set("seller_id", reportsSeller)
	set("category", reportsCategory)
	if reportsMinScore >= 0 {
		q.Set("min_score", strconv.Itoa(reportsMinScore))
	}
	if reportsMaxScore >= 0 {
		q.Set("max_score", strconv.Itoa(reportsMaxScore))
	}
	if f := cmd.Flags().Lookup("limit"); f != nil && f.Changed {
		q.Set("limit", strconv.Itoa(reportsLimit))
	}
	if reportsOffset > 0 {
		q.Set("offset", strconv.Itoa(reportsOffset))
	}
	return q
}

func runReportsList(cmd *cobra.Command, _ []string) error {
	page, err := newClient().Reports(cmd.Context(), reportQuery(cmd))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), page)
	}
	if page.Count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reports.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tSELLER\tCATEGORY\tSCORE\tRISK\tVIOLATIONS\tAUDITED")
	for _, r := range page.Reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			r.ProductID, r.SellerID, r.Category, r.ComplianceScore, r.RiskLevel, len(r.Violations),
			r.CreatedAt.Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d report(s), offset %d\n", page.Count, page.Offset)
	return nil
}

func runReportsGet(cmd *cobra.Command, args []string) error {
	rep, err := newClient().Report(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), rep)
}

func runReportsExport(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		out = f
	}
	return newClient().ExportReports(cmd.Context(), reportQuery(cmd), out)
}

func runCategories(cmd *cobra.Command, _ []string) error {
	cats, err := newClient().Categories(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), cats)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRULES\tDESCRIPTION")
	for _, c := range cats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Name, c.RuleCount, c.Description)
	}
	return tw.Flush()
}

func runSummary(cmd *cobra.Command, _ []string) error {
	s, err := newClient().Summary(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), s)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Audited:        %d\n", s.TotalAudited)
	fmt.Fprintf(w, "Compliant:      %d\n", s.CompliantCount)
	fmt.Fprintf(w, "Non-compliant:  %d\n", s.NonCompliantCount)
	fmt.Fprintf(w, "Average score:  %.1f\n", s.AverageScore)
	if len(s.MostCommonViolations) > 0 {
		fmt.Fprintln(w, "\nMost common violations:")
		for _, v := range s.MostCommonViolations {
			fmt.Fprintf(w, "  %4d  %s\n", v.Count, v.Violation)
		}
	}
	return nil
}
