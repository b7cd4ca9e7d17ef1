package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

const layout = `{{define "layout"}}<!DOCTYPE html>
<html>
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0"/>
    <title>{{.Title}}</title>
    <style>
      body, table, td, a { font-family: Arial, sans-serif; }
      .container { max-width: 600px; margin: 0 auto; padding: 1rem; }
      .header { text-align: center; background-color: #f2f2f2; padding: 1rem; }
      .content { background: #ffffff; padding: 1rem; }
      .button { display: inline-block; padding: 0.75rem 1.25rem; background-color: #0070f3; color: #fff; text-decoration: none; margin-top: 1rem; border-radius: 4px; }
      .footer { margin-top: 2rem; text-align: center; font-size: 0.85rem; color: #666; }
    </style>
  </head>
  <body>
    <div class="container">
      <div class="header"><h2>{{.Title}}</h2></div>
      <div class="content">{{template "content" .}}</div>
      <div class="footer"><p>If you have any questions, please contact {{.MerchantName}}.</p></div>
    </div>
  </body>
</html>{{end}}`

const invoiceIssuedContent = `{{define "content"}}
<p>{{.MerchantName}} sent you an invoice.</p>
<p>Invoice #: <strong>{{.InvoiceID}}</strong></p>
{{if .DueDate}}<p>Due Date: <strong>{{.DueDate}}</strong></p>{{end}}
<p>Amount Due: <strong>{{.Amount}} {{.Symbol}}</strong></p>
<p>Please click the link below to pay your invoice.</p>
<a href="{{.PayLink}}" class="button" target="_blank">Pay Invoice</a>
{{end}}`

const paymentReceivedContent = `{{define "content"}}
<p>Thank you for your payment.</p>
<p>Invoice #: <strong>{{.InvoiceID}}</strong></p>
<p>Date Paid: <strong>{{.PaidAt}}</strong></p>
<p>Amount Paid: <strong>{{.Amount}} {{.Symbol}}</strong></p>
<p>Your payment has been received successfully.</p>
{{end}}`

const partialPaymentContent = `{{define "content"}}
<p>We received part of your payment.</p>
<p>Invoice #: <strong>{{.InvoiceID}}</strong></p>
<p>Date Paid: <strong>{{.PaidAt}}</strong></p>
<p>Amount Paid: <strong>{{.Amount}} {{.Symbol}}</strong></p>
<p>Total Paid: <strong>{{.TotalPaid}} of {{.TotalPrice}} {{.Symbol}}</strong></p>
<p>Remaining Balance: <strong>{{.Remaining}} {{.Symbol}}</strong></p>
{{if .PayLink}}<a href="{{.PayLink}}" class="button" target="_blank">Pay Remaining Balance</a>{{end}}
{{end}}`

const merchantPaymentContent = `{{define "content"}}
<p>{{.PayerName}} paid <strong>{{.Amount}} {{.Symbol}}</strong> towards invoice <strong>{{.InvoiceID}}</strong>.</p>
<p>Total Paid: <strong>{{.TotalPaid}} of {{.TotalPrice}} {{.Symbol}}</strong></p>
<p>Status: <strong>{{.Status}}</strong></p>
<p>Transaction: <code>{{.TransactionHash}}</code></p>
{{end}}`

var (
	invoiceIssuedTemplate   = template.Must(template.Must(template.New("issued").Parse(layout)).Parse(invoiceIssuedContent))
	paymentReceivedTemplate = template.Must(template.Must(template.New("received").Parse(layout)).Parse(paymentReceivedContent))
	partialPaymentTemplate  = template.Must(template.Must(template.New("partial").Parse(layout)).Parse(partialPaymentContent))
	merchantPaymentTemplate = template.Must(template.Must(template.New("merchant").Parse(layout)).Parse(merchantPaymentContent))
)

type InvoiceIssued struct {
	MerchantName string
	InvoiceID    string
	DueDate      string
	Amount       string
	Symbol       string
	PayLink      string
}

type PaymentReceived struct {
	MerchantName    string
	PayerName       string
	InvoiceID       string
	Amount          string
	TotalPaid       string
	TotalPrice      string
	Remaining       string
	Symbol          string
	Status          string
	TransactionHash string
	PaidAt          string
	PayLink         string
	FullyPaid       bool
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, "layout", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func InvoiceIssuedMessage(to string, data InvoiceIssued) (Message, error) {
	html, err := render(invoiceIssuedTemplate, struct {
		InvoiceIssued
		Title string
	}{data, "Invoice Payment"})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Invoice from %s", data.MerchantName),
		HTML:    html,
	}, nil
}

// PayerPaymentMessage picks the confirmation or partial payment template from data.FullyPaid.
func PayerPaymentMessage(to string, data PaymentReceived) (Message, error) {
	tmpl, title, subject := paymentReceivedTemplate, "Payment Confirmation", "Payment received for invoice "+data.InvoiceID
	if !data.FullyPaid {
		tmpl, title, subject = partialPaymentTemplate, "Partial Payment Received", "Partial payment received for invoice "+data.InvoiceID
	}
	html, err := render(tmpl, struct {
		PaymentReceived
		Title string
	}{data, title})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, HTML: html}, nil
}

func MerchantPaymentMessage(to string, data PaymentReceived) (Message, error) {
	html, err := render(merchantPaymentTemplate, struct {
		PaymentReceived
		Title string
	}{data, "Payment Received"})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s paid %s %s", data.PayerName, data.Amount, data.Symbol),
		HTML:    html,
	}, nil
}
