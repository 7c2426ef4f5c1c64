package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskSubmitCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var taskType string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(ListTasksOpts{
				Status: status,
				Type:   taskType,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "TYPE", "PRIORITY", "STATUS", "RETRIES", "CREATED"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{
					t.ID, t.Name, t.Type, strconv.Itoa(t.Priority), t.Status,
					fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries), t.CreatedAt,
				}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, success, failed, cancelled)")
	cmd.Flags().StringVar(&taskType, "type", "", "Filter by type (scrape, navigate, form_fill, login, custom)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newTaskSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var taskType string
	var priority int
	var maxRetries int
	var configs []string

	cmd := &cobra.Command{
		Use:   "submit TARGET_URL",
		Short: "Submit a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitTaskRequest{
				Name:      name,
				TargetURL: args[0],
				Type:      taskType,
				Priority:  priority,
			}

			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}

			if len(configs) > 0 {
				req.Config = make(map[string]any)
				for _, kv := range configs {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid config format %q, expected KEY=VALUE", kv)
					}
					req.Config[parts[0]] = parts[1]
				}
			}

			task, err := client.SubmitTask(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task submitted: %s", task.ID))
			out.Print(
				[]string{"ID", "NAME", "TYPE", "PRIORITY", "STATUS", "CREATED"},
				[][]string{{task.ID, task.Name, task.Type, strconv.Itoa(task.Priority), task.Status, task.CreatedAt}},
				task,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Task name (target URL if not specified)")
	cmd.Flags().StringVar(&taskType, "type", "", "Task type (default: scrape)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Dispatch priority [0, 100]")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget (server default if not specified)")
	cmd.Flags().StringSliceVar(&configs, "config", nil, "Executor config as KEY=VALUE (repeatable)")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "STATUS", "RETRIES", "ITEMS", "ERROR", "CREATED"},
				[][]string{{
					task.ID, task.Name, task.Status,
					fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries),
					strconv.Itoa(task.ItemsScraped), task.Error, task.CreatedAt,
				}},
				task,
			)
			return nil
		},
	}
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.CancelTask(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task %s: %s", task.Status, task.ID))
			return nil
		},
	}
}
