package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/dolchat/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the dataset catalog block given to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		datasets, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), catalog.Render(datasets))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
