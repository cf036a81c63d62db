package main

import (
	"fmt"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/helpdesk"
	"github.com/spf13/cobra"
	tele "gopkg.in/telebot.v4"
)

var dropPending bool

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register HELPDESK_WEBHOOK_URL with the secret token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, bot, err := webhookBot()
		if err != nil {
			return err
		}
		cfg.Webhook.DropPendingUpdates = cfg.Webhook.DropPendingUpdates || dropPending
		if err := helpdesk.SetWebhook(bot, cfg.Webhook); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "webhook set:", cfg.Webhook.URL)
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, bot, err := webhookBot()
		if err != nil {
			return err
		}
		if err := helpdesk.DeleteWebhook(bot, dropPending); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
		return nil
	},
}

var webhookInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the current webhook status",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, bot, err := webhookBot()
		if err != nil {
			return err
		}
		info, err := helpdesk.GetWebhookInfo(bot)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "url: %s\npending updates: %d\nmax connections: %d\n",
			info.URL, info.PendingUpdateCount, info.MaxConnections)
		if info.LastErrorMessage != "" {
			fmt.Fprintf(out, "last error: %s (%s)\n", info.LastErrorMessage, info.LastError().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	webhookSetCmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop updates waiting for delivery")
	webhookDeleteCmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop updates waiting for delivery")
	webhookCmd.AddCommand(webhookSetCmd, webhookDeleteCmd, webhookInfoCmd)
}

func webhookBot() (helpdesk.Config, *tele.Bot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	if cfg.Token == "" {
		return cfg, nil, helpdesk.ErrEmptyToken
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return cfg, nil, errm.Wrap(err, "new telebot")
	}
	return cfg, bot, nil
}
