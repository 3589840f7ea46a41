package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rentdesk/internal/client"
)

func apiClient(cmd *cobra.Command) *client.Client {
	api, _ := cmd.Flags().GetString("api")
	token, _ := cmd.Flags().GetString("token")
	return client.New(api, token, 30*time.Second)
}

func pollerFromFlags(cmd *cobra.Command) client.Poller {
	p := client.DefaultPoller()
	if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
		p.Interval = v
	}
	if v, _ := cmd.Flags().GetInt("attempts"); v > 0 {
		p.MaxAttempts = v
	}
	return p
}

func addPollFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("interval", 0, "Poll interval (default 3s)")
	cmd.Flags().Int("attempts", 0, "Maximum poll attempts (default 40)")
}

// payCmd 发起 STK Push 并轮询到终态
func payCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay <lease-id>",
		Short: "Initiate an M-PESA STK Push for a lease and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			amount, _ := cmd.Flags().GetFloat64("amount")
			ref, _ := cmd.Flags().GetString("reference")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := apiClient(cmd)
			resp, err := c.InitiatePush(ctx, client.PushRequest{
				PhoneNumber:      phone,
				Amount:           amount,
				LeaseID:          args[0],
				AccountReference: ref,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Push sent: transaction %s (%s)\n", resp.TransactionID, resp.Message)
			return wait(ctx, out, c, pollerFromFlags(cmd), resp.TransactionID)
		},
	}

	cmd.Flags().StringP("phone", "p", "", "Payer phone number")
	cmd.Flags().Float64P("amount", "a", 0, "Amount in KES")
	cmd.Flags().String("reference", "", "Account reference (default derived from lease)")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("amount")
	addPollFlags(cmd)
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <transaction-id>",
		Short: "Poll an M-PESA transaction until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return wait(ctx, cmd.OutOrStdout(), apiClient(cmd), pollerFromFlags(cmd), args[0])
		},
	}
	addPollFlags(cmd)
	return cmd
}

func wait(ctx context.Context, out io.Writer, c *client.Client, p client.Poller, id string) error {
	res, err := p.Wait(ctx, id, c.GetTransaction)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	switch res.State {
	case client.StateCompleted:
		receipt := ""
		if res.Transaction.MpesaReceiptNumber != nil {
			receipt = *res.Transaction.MpesaReceiptNumber
		}
		fmt.Fprintf(out, "Completed: receipt %s\n", receipt)
	case client.StateFailed:
		desc := ""
		if res.Transaction.ResultDesc != nil {
			desc = *res.Transaction.ResultDesc
		}
		fmt.Fprintf(out, "Failed: %s\n", desc)
		return fmt.Errorf("payment %s failed", id)
	default:
		// 未到终态不算失败，服务端对账任务稍后仍可能完成
		fmt.Fprintf(out, "Still pending after %d attempts; check again later with: rentctl watch %s\n", res.Attempts, id)
		if res.LastErr != nil {
			fmt.Fprintf(out, "Last error: %v\n", res.LastErr)
		}
	}
	return nil
}
