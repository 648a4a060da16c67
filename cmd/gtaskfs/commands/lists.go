package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

func newListsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Show your task lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := a.requireTasks()
			if err != nil {
				return err
			}
			lists, err := tasks.ListTaskLists(cmd.Context())
			if err != nil {
				return fmt.Errorf("list task lists: %w", err)
			}
			if len(lists) == 0 {
				a.printer.Info("No task lists")
				return nil
			}
			for _, list := range lists {
				a.printer.Info("%s\t%s", list.ID, list.Title)
			}
			return nil
		},
	}
}

func newTasksCmd(a *app) *cobra.Command {
	var opts tasksapi.ListTasksOptions
	cmd := &cobra.Command{
		Use:   "tasks LIST_ID",
		Short: "Show the tasks of a list with their document addresses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.requireTasks()
			if err != nil {
				return err
			}
			listID := args[0]
			records, err := client.ListTasks(cmd.Context(), listID, opts)
			if err != nil {
				if errors.Is(err, tasksapi.ErrNotFound) {
					return a.printer.Error(fmt.Sprintf("task list not found: %s", listID), err.Error(), []string{"run: gtaskfs lists"})
				}
				return fmt.Errorf("list tasks: %w", err)
			}
			if len(records) == 0 {
				a.printer.Info("No tasks")
				return nil
			}
			printTaskTree(cmd.OutOrStdout(), listID, records)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.ShowCompleted, "show-completed", false, "include completed tasks")
	cmd.Flags().BoolVar(&opts.ShowHidden, "show-hidden", false, "include hidden tasks")
	cmd.Flags().BoolVar(&opts.ShowDeleted, "show-deleted", false, "include deleted tasks")
	return cmd
}

func newAddListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-list TITLE",
		Short: "Create a task list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.requireTasks()
			if err != nil {
				return err
			}
			if strings.TrimSpace(args[0]) == "" {
				return fmt.Errorf("title must not be empty")
			}
			list, err := client.InsertTaskList(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("create task list: %w", err)
			}
			a.printer.Success("Created list %q (%s)", list.Title, list.ID)
			return nil
		},
	}
}

func newDeleteListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-list LIST_ID",
		Short: "Delete a task list and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.requireTasks()
			if err != nil {
				return err
			}
			if err := client.DeleteTaskList(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, tasksapi.ErrNotFound) {
					return a.printer.Error(fmt.Sprintf("task list not found: %s", args[0]), err.Error(), nil)
				}
				return fmt.Errorf("delete task list: %w", err)
			}
			a.logger.Info().Str("list", args[0]).Msg("task list deleted")
			a.printer.Success("Deleted list %s", args[0])
			return nil
		},
	}
}

// printTaskTree writes one line per task, subtasks indented under their
// parent, each followed by its document address.
func printTaskTree(out io.Writer, listID string, records []taskdoc.Record) {
	known := make(map[string]struct{}, len(records))
	for _, record := range records {
		known[record.ID] = struct{}{}
	}
	children := map[string][]taskdoc.Record{}
	for _, record := range records {
		parent := ""
		if record.Parent != nil {
			if _, ok := known[*record.Parent]; ok {
				parent = *record.Parent
			}
		}
		children[parent] = append(children[parent], record)
	}
	for _, siblings := range children {
		sort.SliceStable(siblings, func(i, j int) bool { return siblings[i].Position < siblings[j].Position })
	}
	var walk func(parent string, depth int)
	walk = func(parent string, depth int) {
		for _, record := range children[parent] {
			mark := " "
			if record.Status != nil && *record.Status == taskdoc.StatusCompleted {
				mark = "x"
			}
			title := ""
			if record.Title != nil {
				title = *record.Title
			}
			fmt.Fprintf(out, "%s[%s] %s  %s\n", strings.Repeat("  ", depth), mark, title, taskdoc.Encode(listID, record.ID))
			walk(record.ID, depth+1)
		}
	}
	walk("", 0)
}
