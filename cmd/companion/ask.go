package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [message...]",
		Short: "Send one message through the governor and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	gov, err := buildGovernor(rt.cfg, rt.logger, nil)
	if err != nil {
		return err
	}

	reply, err := gov.Respond(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), reply)
	return err
}
