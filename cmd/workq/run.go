package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/workq/internal/queue"
	"github.com/oriys/workq/internal/worker"
)

// job is the demo payload: an arbitrary JSON object plus a label used
// for console output.
type job struct {
	Label string          `json:"label"`
	Data  json.RawMessage `json:"data"`
}

func runCmd() *cobra.Command {
	var inputPath string
	var failLabel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load jobs from a JSON-lines file and process them",
		RunE: func(cmd *cobra.Command, args []string) error {
			leaseTimeout, err := time.ParseDuration(workItemTimeout)
			if err != nil {
				return fmt.Errorf("invalid --lease-timeout: %w", err)
			}
			delay, err := time.ParseDuration(deliveryDelay)
			if err != nil {
				return fmt.Errorf("invalid --delivery-delay: %w", err)
			}

			engine := queue.New(queue.Config[job]{
				Name:            queueName,
				Retries:         retries,
				WorkItemTimeout: leaseTimeout,
			})
			defer engine.Dispose()

			jobs, err := readJobs(inputPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			enqueued := 0
			for _, j := range jobs {
				if _, err := engine.Enqueue(ctx, j, queue.EnqueueOptions{DeliveryDelay: delay}); err != nil {
					fmt.Fprintf(os.Stderr, "enqueue %q: %v\n", j.Label, err)
					continue
				}
				enqueued++
			}

			handler := func(ctx context.Context, entry *queue.Entry[job]) error {
				if entry.Value.Label == failLabel {
					return fmt.Errorf("simulated failure for %q", entry.Value.Label)
				}
				fmt.Printf("processed %-20s attempt=%d\n", entry.Value.Label, entry.Attempts)
				return nil
			}

			pool := worker.New(engine, handler, worker.Config{
				Workers:     workers,
				DequeueWait: 500 * time.Millisecond,
			})
			pool.Start()

			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				stats := engine.GetStats()
				if stats.EnqueuedTotal >= uint64(enqueued) && stats.Pending == 0 && stats.Leased == 0 {
					break
				}
				time.Sleep(50 * time.Millisecond)
			}
			pool.Stop()

			stats := engine.GetStats()
			fmt.Printf("\nenqueued=%d dequeued=%d completed=%d abandoned=%d deadletter=%d\n",
				stats.EnqueuedTotal, stats.DequeuedTotal, stats.CompletedTotal, stats.AbandonedTotal, stats.DeadLetter)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "path to a JSON-lines file of {\"label\":...,\"data\":...} jobs")
	cmd.Flags().StringVar(&failLabel, "fail-label", "", "label of a job to always fail, to exercise retry/dead-letter")
	cmd.MarkFlagRequired("input")

	return cmd
}

func readJobs(path string) ([]job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	var jobs []job
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var j job
		if err := json.Unmarshal(line, &j); err != nil {
			return nil, fmt.Errorf("parse line: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return jobs, nil
}
