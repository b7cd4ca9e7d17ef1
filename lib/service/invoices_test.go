package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateInvoice(ctx, env.merchant.ID, service.InvoiceParams{Name: "Bob"})
	assert.ErrorIs(t, err, service.ErrInvalidInvoice)
	_, err = env.svc.CreateInvoice(ctx, env.merchant.ID, service.InvoiceParams{
		Items: []models.InvoiceItem{{Name: "Free lunch", Price: usdc("0")}},
	})
	assert.ErrorIs(t, err, service.ErrInvalidInvoice)
	_, err = env.svc.CreateInvoice(ctx, env.merchant.ID, service.InvoiceParams{
		PaymentCollection: "weekly",
		Items:             []models.InvoiceItem{{Name: "Lunch", Price: usdc("5")}},
	})
	assert.ErrorIs(t, err, service.ErrInvalidInvoice)

	invoice, err := env.svc.CreateInvoice(ctx, env.merchant.ID, service.InvoiceParams{
		Items: []models.InvoiceItem{{Name: "Lunch", Price: usdc("5")}, {Name: "Coffee", Price: usdc("2.5")}},
	})
	require.NoError(t, err)
	assert.Equal(t, common.PaymentCollectionOneTime, invoice.PaymentCollection)
	assert.True(t, usdc("7.5").Equal(invoice.TotalPrice()))
	assert.True(t, invoice.HasWallet())
	// no payer email, no notification
	assert.Empty(t, env.mail.Messages())
}

func TestCreateInvoiceSendsPayLink(t *testing.T) {
	env := newTestEnv(t)
	invoice := env.createOneTime(t, "100")

	sent := env.mail.To("bob@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, "Invoice from Acme", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, env.svc.Config.PayLink(invoice.ID))
}

func TestDraftIsEditedInPlaceAndIssued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	params := oneTimeParams("10")
	params.Draft = true
	draft, err := env.svc.CreateInvoice(ctx, env.merchant.ID, params)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusDraft, draft.Status)
	assert.False(t, draft.HasWallet())
	assert.Empty(t, env.listened())

	params.Items = []models.InvoiceItem{{Name: "Design work", Price: usdc("12")}}
	edited, err := env.svc.MutateInvoice(ctx, env.merchant.ID, draft.ID, service.InvoiceMutation{Kind: service.MutationAmend, Params: params})
	require.NoError(t, err)
	assert.Equal(t, draft.ID, edited.ID)
	assert.Equal(t, common.InvoiceStatusDraft, edited.Status)

	params.Draft = false
	issued, err := env.svc.MutateInvoice(ctx, env.merchant.ID, draft.ID, service.InvoiceMutation{Kind: service.MutationAmend, Params: params})
	require.NoError(t, err)
	assert.Equal(t, draft.ID, issued.ID)
	assert.Equal(t, common.InvoiceStatusOutstanding, issued.Status)
	assert.True(t, issued.HasWallet())
	assert.Contains(t, env.listened(), issued.WalletAddress)
	assert.Len(t, env.mail.To("bob@example.com"), 1)

	_, err = env.svc.MutateInvoice(ctx, env.merchant.ID, draft.ID, service.InvoiceMutation{Kind: service.MutationVoid})
	require.NoError(t, err)
}

func TestAmendIssuedInvoiceCreatesNewVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	original := env.createOneTime(t, "100")

	params := oneTimeParams("80")
	amended, err := env.svc.MutateInvoice(ctx, env.merchant.ID, original.ID, service.InvoiceMutation{Kind: service.MutationAmend, Params: params})
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, amended.ID)
	assert.Equal(t, original.ID, amended.PreviousVersionID)
	assert.Equal(t, original.WalletAddress, amended.WalletAddress)
	assert.Equal(t, common.InvoiceStatusOutstanding, amended.Status)
	assert.True(t, usdc("80").Equal(amended.TotalPrice()))

	old, err := env.svc.FindInvoice(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusVoid, old.Status)
	assert.False(t, old.HasWallet())

	// transfers to the shared address land on the new version
	result, err := env.svc.HandleWalletActivity(ctx, env.activity(original.WalletAddress, "0xab1", "80"))
	require.NoError(t, err)
	assert.Equal(t, amended.ID, result.Settle.Invoice.ID)
	assert.Equal(t, common.InvoiceStatusPaid, result.Settle.Status)

	_, err = env.svc.MutateInvoice(ctx, env.merchant.ID, amended.ID, service.InvoiceMutation{Kind: service.MutationAmend, Params: params})
	assert.ErrorIs(t, err, service.ErrNotEditable)
	_, err = env.svc.MutateInvoice(ctx, env.merchant.ID, amended.ID, service.InvoiceMutation{Kind: service.MutationVoid})
	assert.ErrorIs(t, err, service.ErrNotEditable)
}

func TestAmendRejectsPartiallyPaidAndForeignInvoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createOneTime(t, "100")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0xac1", "10"))
	require.NoError(t, err)

	_, err = env.svc.MutateInvoice(ctx, env.merchant.ID, invoice.ID, service.InvoiceMutation{Kind: service.MutationAmend, Params: oneTimeParams("50")})
	assert.ErrorIs(t, err, service.ErrNotEditable)

	params := oneTimeParams("50")
	params.PaymentCollection = common.PaymentCollectionMultiUse
	other := env.createOneTime(t, "20")
	_, err = env.svc.MutateInvoice(ctx, env.merchant.ID, other.ID, service.InvoiceMutation{Kind: service.MutationAmend, Params: params})
	assert.ErrorIs(t, err, service.ErrNotEditable)

	_, err = env.svc.MutateInvoice(ctx, "someone-else", invoice.ID, service.InvoiceMutation{Kind: service.MutationVoid})
	assert.ErrorIs(t, err, service.ErrInvoiceNotFound)
}

func TestVoidMultiUseStopsSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createMultiUse(t, "25")
	session, err := env.svc.CreateCheckoutSession(ctx, invoice.ID, "Alice", "alice@example.com")
	require.NoError(t, err)
	require.Contains(t, env.listened(), session.WalletAddress)

	_, err = env.svc.MutateInvoice(ctx, env.merchant.ID, invoice.ID, service.InvoiceMutation{Kind: service.MutationVoid})
	require.NoError(t, err)
	assert.NotContains(t, env.listened(), session.WalletAddress)

	_, err = env.svc.CreateCheckoutSession(ctx, invoice.ID, "Carol", "carol@example.com")
	assert.ErrorIs(t, err, service.ErrNotPayable)
	check, err := env.svc.CheckPayment(ctx, invoice.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, service.MessageNotPayable, check.Message)
}

func TestOverdueInvoicesStayPayable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	due := env.clock.Now().Add(24 * time.Hour)
	params := oneTimeParams("100")
	params.DueDate = &due
	invoice, err := env.svc.CreateInvoice(ctx, env.merchant.ID, params)
	require.NoError(t, err)
	env.createOneTime(t, "5")

	marked, err := env.svc.MarkOverdueInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	env.clock.Advance(48 * time.Hour)
	marked, err = env.svc.MarkOverdueInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	result, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0xad1", "100"))
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusPaid, result.Settle.Status)
}

func TestInvoiceListAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.createOneTime(t, "10")
		env.clock.Advance(time.Minute)
	}
	paid := env.createOneTime(t, "10")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(paid.WalletAddress, "0xae1", "10"))
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	env.createMultiUse(t, "10")

	invoices, count, err := env.svc.ListInvoices(ctx, env.merchant.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	require.Len(t, invoices, 2)
	assert.Equal(t, paid.ID, invoices[1].ID)

	stats, err := env.svc.InvoiceStats(ctx, env.merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 4, stats.ByStatus[common.InvoiceStatusOutstanding])
	assert.Equal(t, 1, stats.ByStatus[common.InvoiceStatusPaid])
	assert.Equal(t, 0, stats.ByStatus[common.InvoiceStatusVoid])

	payments, err := env.svc.InvoicePayments(ctx, env.merchant.ID, paid.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "0xae1", payments[0].TransactionHash)
}

func TestReconcileRecoversMissedWebhooks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createOneTime(t, "100")
	multi := env.createMultiUse(t, "25")
	session, err := env.svc.CreateCheckoutSession(ctx, multi.ID, "Alice", "alice@example.com")
	require.NoError(t, err)
	env.createOneTime(t, "30")

	env.cdp.AddIncomingTransfer(invoice.WalletAddress, env.svc.Asset.ContractAddress, "0xaf1", baseUnits("100"))
	env.cdp.AddIncomingTransfer(session.WalletAddress, env.svc.Asset.ContractAddress, "0xaf2", baseUnits("25"))

	report, err := env.svc.ReconcileOutstanding(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Credited)
	assert.Equal(t, 0, report.Failed)

	found, err := env.svc.GetCheckoutSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, common.SessionStatusPaid, found.Status)
}

func TestFindOrCreateUserIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	again, err := env.svc.FindOrCreateUser(ctx, "merchant-subject", "merchant@example.com", "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, env.merchant.ID, again.ID)
	assert.Equal(t, env.merchant.WalletAddress, again.WalletAddress)

	ensured, err := env.svc.EnsureUserWallet(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, env.merchant.WalletID, ensured.WalletID)

	env.cdp.SetBalance(env.merchant.WalletAddress, baseUnits("12.5"))
	balance, err := env.svc.WalletBalance(ctx, ensured)
	require.NoError(t, err)
	assert.True(t, usdc("12.5").Equal(balance))

	_, err = env.svc.FindUserBySubject(ctx, "nobody")
	assert.ErrorIs(t, err, service.ErrUserNotFound)
}
