package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedules, err := client.ListSchedules()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "SPEC", "TZ", "ENABLED", "NEXT_DUE", "TARGET"}
			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				spec := s.CronExpr
				if spec == "" {
					spec = fmt.Sprintf("every %ds", s.IntervalSec)
				}
				rows[i] = []string{
					s.ID, s.Name, spec, s.Timezone,
					strconv.FormatBool(s.Enabled), s.NextDueAt, s.Template.TargetURL,
				}
			}

			out.Print(headers, rows, schedules)
			return nil
		},
	}
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var cronExpr string
	var intervalSec int
	var timezone string
	var disabled bool
	var taskType string
	var priority int

	cmd := &cobra.Command{
		Use:   "create TARGET_URL",
		Short: "Create a recurring schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedule, err := client.CreateSchedule(CreateScheduleRequest{
				Name:        name,
				CronExpr:    cronExpr,
				IntervalSec: intervalSec,
				Timezone:    timezone,
				Enabled:     !disabled,
				Template: SubmitTaskRequest{
					TargetURL: args[0],
					Type:      taskType,
					Priority:  priority,
				},
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (e.g. \"0 9 * * *\")")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "Interval in seconds (used if --cron not set)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "Timezone (default: UTC)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create in disabled state")
	cmd.Flags().StringVar(&taskType, "type", "", "Task type for created tasks")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority for created tasks")

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteSchedule(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}
