/*
Copyright 2025 Veil Authors.

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
	"github.com/veilstats/veil"
	"github.com/veilstats/veil/config"
	"github.com/veilstats/veil/database"
	"github.com/veilstats/veil/internal/notification"
)

// Veil represents the CLI application, encapsulating the root Cobra command.
type Veil struct {
	cmd *cobra.Command
}

// veilInstance holds the service instance and its configuration, shared
// by the subcommands.
type veilInstance struct {
	veil *veil.Veil
	cnf  *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance
// before any subcommand runs.
func preRun(app *veilInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("veil.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newVeil, err := setupVeil(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.veil = newVeil
		app.cnf = cnf

		return nil
	}
}

// setupVeil creates the service from the configured data source.
func setupVeil(cfg *config.Configuration) (*veil.Veil, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newVeil, err := veil.NewVeil(db)
	if err != nil {
		return nil, fmt.Errorf("error creating veil: %v", err)
	}
	return newVeil, nil
}

// NewCLI creates the command-line interface for the Veil service.
func NewCLI() *Veil {
	var configFile string
	b := &veilInstance{}

	var rootCmd = &cobra.Command{
		Use:   "veil",
		Short: "Confidential aggregate reveal service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./veil.json", "Configuration file for the veil server")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Veil{cmd: rootCmd}
}

func (w Veil) executeCLI() {
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
