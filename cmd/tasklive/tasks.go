package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astromechza/tasklive/pkg/output"
	"github.com/astromechza/tasklive/pkg/tasks"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Print all tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			all, err := client.ListTasks(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			output.FormatTasks(cmd.OutOrStdout(), all)
			return nil
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var due, assignee string
	cmd := &cobra.Command{
		Use:   "add <title>...",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			t, err := client.CreateTask(cmd.Context(), tasks.Draft{
				Title:         strings.Join(args, " "),
				DueDate:       tasks.String(due),
				AssigneeEmail: tasks.String(assignee),
			})
			if err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}
			output.FormatTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "due date as YYYY-MM-DD, defaults to today")
	cmd.Flags().StringVar(&assignee, "assignee", "", "email of the person doing it")
	return cmd
}

func (a *app) doneCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			t, err := client.UpdateTask(cmd.Context(), id, tasks.Patch{Completed: tasks.Bool(!undo)})
			if err != nil {
				return fmt.Errorf("failed to update task: %w", err)
			}
			output.FormatTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the task open again")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var title, due, assignee string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's fields; an empty value clears due date or assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var p tasks.Patch
			if cmd.Flags().Changed("title") {
				p.Title = &title
			}
			if cmd.Flags().Changed("due") {
				p.DueDate = &due
			}
			if cmd.Flags().Changed("assignee") {
				p.AssigneeEmail = &assignee
			}
			if p.IsEmpty() {
				return fmt.Errorf("nothing to change, pass --title, --due or --assignee")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			t, err := client.UpdateTask(cmd.Context(), id, p)
			if err != nil {
				return fmt.Errorf("failed to update task: %w", err)
			}
			output.FormatTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&due, "due", "", "new due date as YYYY-MM-DD")
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee email")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.DeleteTask(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted task %d\n", id)
			return nil
		},
	}
}
