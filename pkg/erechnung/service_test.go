package erechnung_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/erechnung/internal/config"
	"github.com/rezonia/erechnung/internal/delivery"
	"github.com/rezonia/erechnung/internal/fixture"
	"github.com/rezonia/erechnung/internal/logger"
	"github.com/rezonia/erechnung/pkg/erechnung"
)

var fixedNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T, opts ...erechnung.Option) *erechnung.Service {
	t.Helper()
	opts = append([]erechnung.Option{erechnung.WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := erechnung.NewService(opts...)
	t.Cleanup(svc.Close)
	return svc
}

func TestService_Generate(t *testing.T) {
	svc := newService(t)
	inv := fixture.Invoice()

	xml, err := svc.Generate(context.Background(), inv, erechnung.FormatXRechnung, erechnung.GenerateOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(xml.Content), inv.InvoiceNumber)

	pdf, err := svc.Generate(context.Background(), inv, erechnung.FormatZUGFeRD, erechnung.GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, len(pdf.Content) > 4 && string(pdf.Content[:4]) == "%PDF")

	_, err = svc.Generate(context.Background(), nil, erechnung.FormatXRechnung, erechnung.GenerateOptions{})
	var inputErr *erechnung.InputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestService_ValidateIsFresh(t *testing.T) {
	svc := newService(t)
	inv := fixture.Invoice()

	first := svc.Validate(context.Background(), inv, erechnung.StandardBoth)
	first.Issues = append(first.Issues, erechnung.ComplianceIssue{RuleID: "LOCAL"})

	second := svc.Validate(context.Background(), inv, erechnung.StandardBoth)
	assert.NotSame(t, first, second)
	for _, is := range second.Issues {
		assert.NotEqual(t, "LOCAL", is.RuleID)
	}
}

func TestService_ComplianceSummary(t *testing.T) {
	svc := newService(t)

	invalid := fixture.Invoice()
	invalid.InvoiceNumber = ""
	sum := svc.ComplianceSummary(context.Background(), []*erechnung.Invoice{fixture.Invoice(), invalid}, erechnung.StandardXRechnung)

	assert.Equal(t, erechnung.StandardXRechnung, sum.Standard)
	assert.Equal(t, 2, sum.Invoices)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 1, sum.Invalid)
	assert.Equal(t, 1, sum.ByRule["CONT-01"])
}

func TestService_ExportUsesDefaults(t *testing.T) {
	svc := newService(t, erechnung.WithProfile(erechnung.ProfileBasic), erechnung.WithExportConcurrency(2))

	job, err := svc.ExportBatch(context.Background(), fixture.Numbered(3), erechnung.DefaultExportOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, job.ProcessedInvoices)
	assert.Equal(t, 6, job.SuccessfulFiles)
	assert.NotEmpty(t, job.Archive)

	v := svc.ValidateBatch(fixture.Numbered(2), erechnung.ExportOptions{})
	assert.True(t, v.CanExport)
}

func TestService_DeliveryDisabled(t *testing.T) {
	svc := newService(t)

	_, err := svc.Deliver(context.Background(), erechnung.DeliveryRequest{Invoice: fixture.Invoice()})
	assert.ErrorIs(t, err, erechnung.ErrDeliveryDisabled)
	_, err = svc.DeliveryChannels(context.Background())
	assert.ErrorIs(t, err, erechnung.ErrDeliveryDisabled)
	_, err = svc.Explain(context.Background(), fixture.Invoice(), &erechnung.ComplianceReport{})
	assert.ErrorIs(t, err, erechnung.ErrAdvisorDisabled)
	_, err = svc.NewScheduler(delivery.DefaultPollSchedule, 10)
	assert.ErrorIs(t, err, erechnung.ErrDeliveryDisabled)
}

func TestService_DeliverToFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DatabaseURL = ":memory:"

	svc, err := erechnung.NewFromConfig(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "outbox")
	err = svc.SaveDeliveryChannel(ctx, &erechnung.DeliveryChannel{
		ID: "archive", Type: delivery.ChannelFileTransfer, Name: "Archiv",
		Config: map[string]string{"directory": dir}, Active: true,
	})
	require.NoError(t, err)

	err = svc.SaveDeliveryChannel(ctx, &erechnung.DeliveryChannel{ID: "fax", Type: "fax", Active: true})
	var inputErr *erechnung.InputError
	assert.True(t, errors.As(err, &inputErr))

	inv := fixture.Invoice()
	attempts, err := svc.Deliver(ctx, erechnung.DeliveryRequest{
		Invoice:    inv,
		ChannelIDs: []string{"archive"},
		Format:     erechnung.FormatXRechnung,
	})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, delivery.StateSuccess, attempts[0].State)
	assert.FileExists(t, attempts[0].TrackingID)

	listed, err := svc.DeliveryAttempts(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = svc.CancelDelivery(ctx, attempts[0].ID)
	assert.ErrorIs(t, err, erechnung.ErrNotCancellable)

	_, err = svc.DeliveryAttempt(ctx, "missing")
	assert.ErrorIs(t, err, erechnung.ErrAttemptNotFound)

	sched, err := svc.NewScheduler(delivery.DefaultPollSchedule, 10)
	require.NoError(t, err)
	n, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
