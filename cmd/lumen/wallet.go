package main

import (
	"fmt"

	"example.com/lumen/pkg/wallet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var walletOut string

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Create and inspect holder wallets",
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a wallet and print its holder address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := wallet.NewWallet()
		if err != nil {
			return fmt.Errorf("generate wallet: %w", err)
		}
		if walletOut != "" {
			if err := w.Backup(walletOut); err != nil {
				return err
			}
			logger.Info("wallet backed up", zap.String("path", walletOut))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "address:    %s\npublic key: %s\n", w.Address().Hex(), w.PublicKeyHex())
		return nil
	},
}

var walletShowCmd = &cobra.Command{
	Use:   "show [backup-file]",
	Short: "Print the holder address of a wallet backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := wallet.Restore(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "address:    %s\npublic key: %s\n", w.Address().Hex(), w.PublicKeyHex())
		return nil
	},
}
