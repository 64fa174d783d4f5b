package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/lmaudit/internal/http"
	"github.com/fyrsmithlabs/lmaudit/internal/monitor"
	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
)

var (
	taskCategory    string
	taskMaxProducts int
	taskMarketplace string
	taskSellerID    string
	taskKeyword     string
	taskWatch       bool
	watchInterval   time.Duration
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskWatchCmd)

	taskSubmitCmd.Flags().StringVar(&taskCategory, "category", "", "discovery category (food_oil, food_packaged, electronics, cosmetics, imported_goods, household, beverages, custom)")
	taskSubmitCmd.Flags().IntVar(&taskMaxProducts, "max", 10, "maximum products to audit")
	taskSubmitCmd.Flags().StringVar(&taskMarketplace, "marketplace", "amazon", "marketplace to search (amazon, flipkart)")
	taskSubmitCmd.Flags().StringVar(&taskSellerID, "seller", "", "seller ID recorded on each report")
	taskSubmitCmd.Flags().StringVar(&taskKeyword, "keyword", "", "search keyword for the custom category")
	taskSubmitCmd.Flags().BoolVar(&taskWatch, "watch", false, "watch the task after submitting")
	_ = taskSubmitCmd.MarkFlagRequired("category")

	for _, c := range []*cobra.Command{taskSubmitCmd, taskWatchCmd} {
		c.Flags().DurationVar(&watchInterval, "interval", time.Second, "refresh interval for the watch view")
	}
}

// taskCmd is the parent command for bulk audit tasks
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage bulk category audit tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Discover and audit products in a category",
	Long: `Start a background task that discovers products on a marketplace and audits each one.

Examples:
  # Audit ten cooking oils on Amazon
  lmaudit task submit --category food_oil --max 10

  # Search Flipkart for a custom keyword and follow progress
  lmaudit task submit --category custom --keyword "baby shampoo" --marketplace flipkart --watch`,
	Args: cobra.NoArgs,
	RunE: runTaskSubmit,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStatus,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskWatchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow a task in a live terminal view",
	Long: `Follow a task until it finishes. Press q to leave the view, r to refresh.

Examples:
  lmaudit task watch 4f1c2e9a-...
  lmaudit task watch 4f1c2e9a-... --interval 500ms`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskWatch,
}

func runTaskSubmit(cmd *cobra.Command, _ []string) error {
	accepted, err := newClient().SubmitTask(cmd.Context(), httpapi.TaskRequest{
		Category:      taskCategory,
		MaxProducts:   taskMaxProducts,
		Marketplace:   taskMarketplace,
		SellerID:      taskSellerID,
		CustomKeyword: taskKeyword,
	})
	if err != nil {
		return err
	}
	if taskWatch {
		return watch(cmd, accepted.TaskID)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), accepted)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s\n", accepted.TaskID, accepted.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "Follow it with: lmaudit task watch %s\n", accepted.TaskID)
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	task, err := newClient().Task(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printTask(cmd.OutOrStdout(), task)
}

func runTaskList(cmd *cobra.Command, _ []string) error {
	tasks, err := newClient().Tasks(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tCATEGORY\tPROGRESS\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, taskState(t), t.Category, monitor.FormatCounts(t), t.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	task, err := newClient().CancelTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), task)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for task %s (%s)\n", task.ID, monitor.FormatCounts(task))
	return nil
}

func runTaskWatch(cmd *cobra.Command, args []string) error {
	return watch(cmd, args[0])
}

func watch(cmd *cobra.Command, taskID string) error {
	model := monitor.NewModel(newClient(), taskID, watchInterval)
	final, err := tea.NewProgram(model,
		tea.WithContext(cmd.Context()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	).Run()
	if err != nil {
		return fmt.Errorf("watch view failed: %w", err)
	}
	if m, ok := final.(monitor.Model); ok && m.Task().State == orchestrator.StateFailed {
		return fmt.Errorf("task %s failed: %s", taskID, m.Task().Error)
	}
	return nil
}

func taskState(t orchestrator.Task) string {
	if t.Cancelled {
		return "cancelled"
	}
	return string(t.State)
}

func printTask(w io.Writer, t orchestrator.Task) error {
	if jsonOutput {
		return printJSON(w, t)
	}

	fmt.Fprintf(w, "Task:      %s\n", t.ID)
	fmt.Fprintf(w, "Status:    %s\n", taskState(t))
	if t.Category != "" {
		fmt.Fprintf(w, "Category:  %s\n", t.Category)
	}
	if t.Marketplace != "" {
		fmt.Fprintf(w, "Market:    %s\n", t.Marketplace)
	}
	fmt.Fprintf(w, "Progress:  %s (%s)\n", monitor.FormatCounts(t), monitor.FormatPercentage(t.Progress()))
	fmt.Fprintf(w, "Elapsed:   %s\n", monitor.FormatDuration(monitor.Elapsed(t, time.Now())))
	if t.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", t.Error)
	}

	if len(t.Results) > 0 {
		fmt.Fprintf(w, "\nResults (%d):\n", len(t.Results))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  PRODUCT\tSCORE\tRISK\tVIOLATIONS")
		for _, r := range t.Results {
			if r == nil {
				continue
			}
			fmt.Fprintf(tw, "  %s\t%d\t%s\t%d\n", r.ProductID, r.ComplianceScore, r.RiskLevel, len(r.Violations))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(t.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors (%d):\n", len(t.Errors))
		for _, e := range t.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	return nil
}
