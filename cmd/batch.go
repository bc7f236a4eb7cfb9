/*
Copyright 2025 Rotaflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rotaflow/rotaflow/internal/notification"
)

// batchCommands returns the command that runs the daily batch: the scheduled
// job producer, stale nudger, retention pruner, and margin sweep. With --once
// the batch runs a single cycle and exits; otherwise it stays resident on the
// configured cron spec.
func batchCommands(b *rotaflowInstance) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "run the rotaflow daily batch",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			runBatch := func() {
				report, err := b.rotaflow.RunDailyBatch(ctx)
				if err != nil {
					logrus.Errorf("Batch run failed: %v", err)
					notification.NotifyError(err)
					return
				}
				logrus.Infof("Batch report: %+v", report)
			}

			if once {
				runBatch()
				return
			}

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(b.cnf.Scheduler.CronSpec, runBatch); err != nil {
				log.Fatalf("Invalid cron spec %q: %v", b.cnf.Scheduler.CronSpec, err)
			}

			log.Printf("Batch scheduler running on spec %q", b.cnf.Scheduler.CronSpec)
			scheduler.Run()
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run one batch cycle and exit")
	return cmd
}
