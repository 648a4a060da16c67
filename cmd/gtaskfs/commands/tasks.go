package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

func newCompleteCmd(a *app) *cobra.Command {
	var (
		keepVisible bool
		reopen      bool
	)
	cmd := &cobra.Command{
		Use:   "complete ADDRESS | LIST_ID TASK_ID",
		Short: "Mark a task completed and hide it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := resolveAddress(args)
			if err != nil {
				return err
			}
			fields := map[string]any{"status": "completed", "hidden": true}
			switch {
			case reopen:
				fields = map[string]any{"status": "needsAction", "hidden": false}
			case keepVisible:
				delete(fields, "hidden")
			}
			if err := writeFields(a, cmd, address, fields); err != nil {
				return err
			}
			if reopen {
				a.printer.Success("Reopened %s", address)
			} else {
				a.printer.Success("Completed %s", address)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepVisible, "keep-visible", false, "do not hide the completed task")
	cmd.Flags().BoolVar(&reopen, "reopen", false, "set the task back to needsAction and unhide it")
	cmd.MarkFlagsMutuallyExclusive("keep-visible", "reopen")
	return cmd
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ADDRESS TITLE | LIST_ID TASK_ID TITLE",
		Short: "Change a task title",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := args[len(args)-1]
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("title must not be empty")
			}
			address, err := resolveAddress(args[:len(args)-1])
			if err != nil {
				return err
			}
			if err := writeFields(a, cmd, address, map[string]any{"title": title}); err != nil {
				return err
			}
			a.printer.Success("Renamed %s to %q", address, title)
			return nil
		},
	}
}

func newDeleteTaskCmd(a *app) *cobra.Command {
	var soft bool
	cmd := &cobra.Command{
		Use:   "delete-task ADDRESS | LIST_ID TASK_ID",
		Short: "Delete a task from Google Tasks",
		Long: `Delete a task from Google Tasks. Documents cannot be deleted through
the document surface; this command calls the service directly. With --soft
the task is only flagged deleted through a document write.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := resolveAddress(args)
			if err != nil {
				return err
			}
			if soft {
				if err := writeFields(a, cmd, address, map[string]any{"deleted": true}); err != nil {
					return err
				}
				a.printer.Success("Flagged %s as deleted", address)
				return nil
			}
			tasks, err := a.requireTasks()
			if err != nil {
				return err
			}
			addr, err := taskdoc.Decode(address)
			if err != nil {
				return err
			}
			if err := tasks.DeleteTask(cmd.Context(), addr.ListID, addr.TaskID); err != nil {
				if errors.Is(err, tasksapi.ErrNotFound) {
					return a.printer.Error(
						fmt.Sprintf("task not found: %s", address),
						err.Error(),
						nil,
					)
				}
				return fmt.Errorf("delete %s: %w", address, err)
			}
			a.logger.Info().Str("address", address).Msg("task deleted")
			a.printer.Success("Deleted %s", address)
			return nil
		},
	}
	cmd.Flags().BoolVar(&soft, "soft", false, "flag the task deleted instead of removing it")
	return cmd
}

func newAddTaskCmd(a *app) *cobra.Command {
	var (
		title  string
		notes  string
		due    string
		parent string
	)
	cmd := &cobra.Command{
		Use:   "add-task LIST_ID",
		Short: "Create a task, or a subtask with --parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("--title must not be empty")
			}
			normalized, _, err := taskdoc.NormalizeDue(due)
			if err != nil {
				return a.printer.Error(
					fmt.Sprintf("invalid due date %q", due),
					err.Error(),
					[]string{"use a date like 2025-12-01", "use a timestamp like 2025-12-01T15:00:00Z"},
				)
			}
			client, err := a.requireTasks()
			if err != nil {
				return err
			}
			listID := args[0]
			record, err := client.InsertTask(cmd.Context(), listID, tasksapi.NewTask{Title: title, Notes: notes, Due: normalized}, parent)
			if err != nil {
				if errors.Is(err, tasksapi.ErrNotFound) {
					return a.printer.Error(fmt.Sprintf("task list or parent not found: %s", listID), err.Error(), []string{"run: gtaskfs lists"})
				}
				return fmt.Errorf("create task: %w", err)
			}
			address := taskdoc.Encode(listID, record.ID)
			a.logger.Info().Str("address", address).Msg("task created")
			a.printer.Success("Created %s", address)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "task notes")
	cmd.Flags().StringVar(&due, "due", "", "due date, 2025-12-01 or 2025-12-01T15:00:00Z")
	cmd.Flags().StringVar(&parent, "parent", "", "create the task as a subtask of this task id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
