package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-companion/pkg/storage"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored messages of a conversation as JSON",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().Int64("conversation", 0, "Conversation id")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	id, err := cmd.Flags().GetInt64("conversation")
	if err != nil {
		return err
	}
	if id <= 0 {
		return errors.New("--conversation must be a positive id")
	}

	store, err := storage.Open(rt.cfg.Storage.Driver, rt.cfg.Storage.Path, rt.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	messages, err := store.ListMessages(cmd.Context(), id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(messages)
}
