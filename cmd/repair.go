package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/repair"
)

var repairClientsFile string

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Maintenance jobs for stored rank data",
}

var repairClientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Link client-less buckets to clients by domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		clients, err := readClientsFile(repairClientsFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		result, err := repair.NewLinker(st, cfg.Repair.BatchSize).Run(ctx, clients)
		if err != nil {
			return eris.Wrap(err, "repair clients")
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func readClientsFile(path string) ([]model.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read clients file %s", path)
	}
	var clients []model.Client
	if err := json.Unmarshal(data, &clients); err != nil {
		return nil, eris.Wrap(err, "parse clients file")
	}
	return clients, nil
}

func init() {
	repairClientsCmd.Flags().StringVar(&repairClientsFile, "clients", "", "JSON file with the client directory")
	_ = repairClientsCmd.MarkFlagRequired("clients")

	repairCmd.AddCommand(repairClientsCmd)
	rootCmd.AddCommand(repairCmd)
}
