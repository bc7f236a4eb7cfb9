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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rotaflow/rotaflow"
	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/database"
	"github.com/rotaflow/rotaflow/internal/notification"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// rotaflowInstance holds the engine instance and its configuration for use by
// every subcommand.
type rotaflowInstance struct {
	rotaflow *rotaflow.Rotaflow
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the engine before any
// subcommand runs.
func preRun(app *rotaflowInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("rotaflow.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRotaflow, err := setupRotaflow(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.rotaflow = newRotaflow
		app.cnf = cnf

		return nil
	}
}

// setupRotaflow connects the datasource and builds the engine from it.
func setupRotaflow(cfg *config.Configuration) (*rotaflow.Rotaflow, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newRotaflow, err := rotaflow.NewRotaflow(db)
	if err != nil {
		return nil, fmt.Errorf("error creating rotaflow: %v", err)
	}
	return newRotaflow, nil
}

// NewCLI builds the command-line interface with the server, workers, and
// batch subcommands.
func NewCLI() *CLI {
	var configFile string
	b := &rotaflowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "rotaflow",
		Short: "Subscription rotation engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./rotaflow.json", "Configuration file for rotaflow")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(batchCommands(b))

	return &CLI{cmd: rootCmd}
}

func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
