package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/erechnung/internal/delivery"
	"github.com/rezonia/erechnung/pkg/erechnung"
)

var (
	dlvChannels    []string
	dlvFormat      string
	dlvTenant      string
	dlvUseRules    bool
	dlvAsync       bool
	dlvMaxAttempts int
	dlvRetryDelay  time.Duration
	dlvRecipient   string
	dlvInvoiceID   string

	chType     string
	chName     string
	chConfig   map[string]string
	chPriority int
	chInactive bool
)

var deliverCmd = &cobra.Command{
	Use:   "deliver [file]",
	Short: "Deliver invoices through configured channels",
	Long: `Deliver invoices through email, Peppol, HTTP API, web portal or file
transfer channels. Attempts are stored in the configured database; failed
attempts with a transient error are retried by "erechnung worker".

Without --channel the tenant's delivery rules choose the channels.

Examples:
  erechnung deliver invoice.json --channel archive
  erechnung deliver invoice.json --rules --tenant acme
  erechnung deliver invoice.json --channel erp --format zugferd --async
  erechnung deliver status --invoice INV-1
  erechnung deliver cancel 7f0c...
  erechnung deliver channel set archive --type file_transfer --config directory=/srv/outbox
  erechnung deliver channels`,
	Args: cobra.ExactArgs(1),
	RunE: runDeliver,
}

var deliverStatusCmd = &cobra.Command{
	Use:   "status [attempt-id]",
	Short: "Show delivery attempts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDeliverStatus,
}

var deliverCancelCmd = &cobra.Command{
	Use:   "cancel <attempt-id>",
	Short: "Cancel a pending or scheduled attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeliverCancel,
}

var deliverChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List delivery channels",
	Args:  cobra.NoArgs,
	RunE:  runDeliverChannels,
}

var deliverChannelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage delivery channels",
}

var deliverChannelSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Create or update a delivery channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeliverChannelSet,
}

var deliverRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List active delivery rules",
	Args:  cobra.NoArgs,
	RunE:  runDeliverRules,
}

var deliverRuleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage delivery rules",
}

var deliverRuleEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Activate a delivery rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleActive(cmd, args[0], true) },
}

var deliverRuleDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Deactivate a delivery rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleActive(cmd, args[0], false) },
}

func init() {
	rootCmd.AddCommand(deliverCmd)
	deliverCmd.AddCommand(deliverStatusCmd, deliverCancelCmd, deliverChannelsCmd, deliverChannelCmd, deliverRulesCmd, deliverRuleCmd)
	deliverChannelCmd.AddCommand(deliverChannelSetCmd)
	deliverRuleCmd.AddCommand(deliverRuleEnableCmd, deliverRuleDisableCmd)

	deliverCmd.Flags().StringSliceVar(&dlvChannels, "channel", nil, "Channel id (repeatable)")
	deliverCmd.Flags().StringVar(&dlvFormat, "format", "", "Document format (xrechnung, zugferd); default from rule or xrechnung")
	deliverCmd.Flags().StringVar(&dlvTenant, "tenant", "", "Tenant whose rules apply")
	deliverCmd.Flags().BoolVar(&dlvUseRules, "rules", false, "Route through delivery rules")
	deliverCmd.Flags().BoolVar(&dlvAsync, "async", false, "Only schedule; the worker sends")
	deliverCmd.Flags().IntVar(&dlvMaxAttempts, "max-attempts", 0, "Attempts before giving up (env: DELIVERY_MAX_ATTEMPTS)")
	deliverCmd.Flags().DurationVar(&dlvRetryDelay, "retry-delay", 0, "Delay between attempts (env: DELIVERY_RETRY_DELAY)")
	deliverCmd.Flags().StringVar(&dlvRecipient, "recipient", "", "Recipient overriding the channel default")

	deliverStatusCmd.Flags().StringVar(&dlvInvoiceID, "invoice", "", "List all attempts of an invoice")
	deliverRulesCmd.Flags().StringVar(&dlvTenant, "tenant", "", "Tenant (default: all)")

	deliverChannelSetCmd.Flags().StringVar(&chType, "type", "", "Channel type (email, peppol, http_api, web_portal, file_transfer)")
	deliverChannelSetCmd.Flags().StringVar(&chName, "name", "", "Display name")
	deliverChannelSetCmd.Flags().StringToStringVar(&chConfig, "config", nil, "Channel settings as key=value pairs")
	deliverChannelSetCmd.Flags().IntVar(&chPriority, "priority", 0, "Higher priority channels are used first")
	deliverChannelSetCmd.Flags().BoolVar(&chInactive, "inactive", false, "Store the channel disabled")
	_ = deliverChannelSetCmd.MarkFlagRequired("type")
}

func withDelivery(cmd *cobra.Command, fn func(ctx context.Context, svc *erechnung.Service) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	svc, err := onlineService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func runDeliver(cmd *cobra.Command, args []string) error {
	invoices, err := readInvoices(args[0])
	if err != nil {
		return err
	}
	req := erechnung.DeliveryRequest{
		ChannelIDs:  dlvChannels,
		TenantID:    dlvTenant,
		UseRules:    dlvUseRules,
		Async:       dlvAsync,
		MaxAttempts: dlvMaxAttempts,
		RetryDelay:  dlvRetryDelay,
		Recipient:   dlvRecipient,
	}
	if dlvFormat != "" {
		if req.Format, err = erechnung.ParseFormat(dlvFormat); err != nil {
			return err
		}
	}

	return withDelivery(cmd, func(ctx context.Context, svc *erechnung.Service) error {
		var all []*erechnung.DeliveryAttempt
		failed := 0
		for _, inv := range invoices {
			r := req
			r.Invoice = inv
			attempts, err := svc.Deliver(ctx, r)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", inv.InvoiceNumber, err)
				continue
			}
			all = append(all, attempts...)
		}
		if err := printAttempts(all); err != nil {
			return err
		}
		for _, a := range all {
			if a.State == delivery.StateFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d delivery(ies) failed", failed)
		}
		return nil
	})
}

func runDeliverStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && dlvInvoiceID == "" {
		return fmt.Errorf("pass an attempt id or --invoice")
	}
	return withDelivery(cmd, func(ctx context.Context, svc *erechnung.Service) error {
		if len(args) == 1 {
			a, err := svc.DeliveryAttempt(ctx, args[0])
			if err != nil {
				return err
			}
			return printAttempts([]*erechnung.DeliveryAttempt{a})
		}
		attempts, err := svc.DeliveryAttempts(ctx, dlvInvoiceID)
		if err != nil {
			return err
		}
		return printAttempts(attempts)
	})
}

func runDeliverCancel(cmd *cobra.Command, args []string) error {
	return withDelivery(cmd, func(ctx context.Context, svc *erechnung.Service) error {
		a, err := svc.CancelDelivery(ctx, args[0])
		if err != nil {
			return err
		}
		return printAttempts([]*erechnung.DeliveryAttempt{a})
	})
}

func runDeliverChannels(cmd *cobra.Command, args []string) error {
	return withDelivery(cmd, func(ctx context.Context, svc *erechnung.Service) error {
		channels, err := svc.DeliveryChannels(ctx)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return outputJSON(os.Stdout, channels)
		}
		tw := newTable(os.Stdout, "ID", "TYPE", "NAME", "ACTIVE", "PRIORITY")
		for _, ch := range channels {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\n", ch.ID, ch.Type, ch.Name, ch.Active, ch.Priority)
		}
		return tw.Flush()
	})
}

func runDeliverChannelSet(cmd *cobra.Command, args []string) error {
	ch := &erechnung.DeliveryChannel{
		ID:       args[0],
		Type:     delivery.ChannelType(strings.ToLower(chType)),
		Name:     chName,
		Config:   chConfig,
		Active:   !chInactive,
		Priority: chPriority,
	}
	return withDelivery(cmd, func(ctx context.Context, svc *erechnung.Service) error {
		if err := svc.SaveDeliveryChannel(ctx, ch); err != nil {
			return err
		}
		fmt.Printf("Channel %s (%s) saved\n", ch.ID, ch.Type)
		return nil
	})
}

func runDeliverRules(cmd *cobra.Command, args []string) error {
	return withDelivery(cmd, func(ctx context.Context, svc *erechnung.Service) error {
		rules, err := svc.DeliveryRules(ctx, dlvTenant)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return outputJSON(os.Stdout, rules)
		}
		tw := newTable(os.Stdout, "ID", "TENANT", "NAME", "CHANNELS", "FORMAT", "PRIORITY")
		for _, r := range rules {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
				r.ID, r.TenantID, r.Name, strings.Join(r.Actions.ChannelIDs, ","), r.Actions.Format, r.Actions.Priority)
		}
		return tw.Flush()
	})
}

func setRuleActive(cmd *cobra.Command, id string, active bool) error {
	return withDelivery(cmd, func(ctx context.Context, svc *erechnung.Service) error {
		if err := svc.SetDeliveryRuleActive(ctx, id, active); err != nil {
			return err
		}
		state := "disabled"
		if active {
			state = "enabled"
		}
		fmt.Printf("Rule %s %s\n", id, state)
		return nil
	})
}

func printAttempts(attempts []*erechnung.DeliveryAttempt) error {
	if outputFormat == "json" {
		return outputJSON(os.Stdout, attempts)
	}
	tw := newTable(os.Stdout, "ATTEMPT", "INVOICE", "CHANNEL", "FORMAT", "STATE", "TRIES", "TRACKING/ERROR")
	for _, a := range attempts {
		detail := a.TrackingID
		if a.Error != nil {
			detail = a.Error.Error()
		}
		if a.State == delivery.StateRetryScheduled && a.NextAttemptAt != nil {
			detail += " (next " + a.NextAttemptAt.Local().Format(time.DateTime) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			a.ID, a.InvoiceNumber, a.ChannelID, a.Format, a.State, a.AttemptCount, a.MaxAttempts, detail)
	}
	return tw.Flush()
}
