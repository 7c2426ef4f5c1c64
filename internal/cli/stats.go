package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewStatsCmd создаёт группу команд для просмотра статистики.
func NewStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool statistics",
	}

	cmd.AddCommand(
		newStatsPoolCmd(clientFn, outputFn),
		newStatsProxiesCmd(clientFn, outputFn),
	)

	return cmd
}

func newStatsPoolCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show queue, worker and proxy summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.PoolStats()
			if err != nil {
				return err
			}

			headers := []string{"WORKERS", "BUSY", "QUEUE", "PENDING", "RUNNING", "SUCCESS", "FAILED", "PROXIES"}
			rows := [][]string{{
				strconv.Itoa(stats.Workers.Size),
				strconv.Itoa(stats.Workers.Busy),
				strconv.Itoa(stats.QueueDepth),
				strconv.Itoa(stats.Tasks["pending"]),
				strconv.Itoa(stats.Tasks["running"]),
				strconv.Itoa(stats.Tasks["success"]),
				strconv.Itoa(stats.Tasks["failed"]),
				fmt.Sprintf("%d/%d", stats.ProxiesHealthy, stats.ProxiesTotal),
			}}

			out.Print(headers, rows, stats)
			return nil
		},
	}
}

func newStatsProxiesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "proxies",
		Short: "Show per-proxy health and latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			proxies, err := client.ProxyStats()
			if err != nil {
				return err
			}

			headers := []string{"PROXY", "PROTOCOL", "HEALTHY", "SUCCESS_RATE", "LATENCY", "REQUESTS"}
			rows := make([][]string, len(proxies))
			for i, p := range proxies {
				rows[i] = []string{
					fmt.Sprintf("%s:%d", p.Address, p.Port),
					p.Protocol,
					strconv.FormatBool(p.IsHealthy),
					fmt.Sprintf("%.1f%%", p.SuccessRate),
					fmt.Sprintf("%.2fs", p.ResponseTime),
					strconv.FormatInt(p.TotalRequests, 10),
				}
			}

			out.Print(headers, rows, proxies)
			return nil
		},
	}
}
