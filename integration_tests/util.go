package integration_tests

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/getAlby/invoicehub.go/cdp/cdptest"
	"github.com/getAlby/invoicehub.go/common"
	v2controllers "github.com/getAlby/invoicehub.go/controllers_v2"
	"github.com/getAlby/invoicehub.go/db"
	"github.com/getAlby/invoicehub.go/db/migrations"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/lib"
	"github.com/getAlby/invoicehub.go/lib/assets"
	"github.com/getAlby/invoicehub.go/lib/listener"
	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/getAlby/invoicehub.go/lib/security"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/getAlby/invoicehub.go/lib/tokens"
	"github.com/getAlby/invoicehub.go/lib/transport"
	"github.com/getAlby/invoicehub.go/mailer/mailertest"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun/migrate"
)

const (
	signatureHeader = "X-Coinbase-Signature"
	testWebhookID   = "webhook-integration"
	testAdminToken  = "admin-token"
)

var testJWTSecret = []byte("SECRET")

// InvoiceHubTestServiceInit runs against DATABASE_URI when set, otherwise a private in-memory sqlite db.
func InvoiceHubTestServiceInit(fake *cdptest.FakeClient, mail *mailertest.Recorder) (svc *service.InvoiceHubService, err error) {
	dbUri, ok := os.LookupEnv("DATABASE_URI")
	if !ok {
		dbUri = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	c := &service.Config{
		DatabaseUri:                 dbUri,
		DatabaseMaxConns:            4,
		DatabaseMaxIdleConns:        1,
		DatabaseConnMaxLifetime:     10,
		JWTSecret:                   testJWTSecret,
		AdminToken:                  testAdminToken,
		PublicURL:                   "http://localhost:3000",
		NetworkID:                   common.NetworkBaseSepolia,
		PaymentAsset:                common.PaymentAssetUSDC,
		ServerEncryptionKey:         base64.StdEncoding.EncodeToString(key),
		WebhookSignatureHeader:      signatureHeader,
		WebhookConsumerType:         common.WebhookConsumerDirect,
		CheckoutSessionTTL:          time.Hour,
		SweepTimeout:                2 * time.Second,
		SweepLease:                  time.Minute,
		SweepMaxAttempts:            3,
		SweepBatchSize:              20,
		NotificationTimeout:         5 * time.Second,
		StatusCheckTransactionLimit: 50,
	}

	dbConn, err := db.Open(c)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx := context.Background()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	_, err = migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	asset, err := assets.Resolve(c.PaymentAsset, c.NetworkID)
	if err != nil {
		return nil, err
	}
	cipher, err := security.NewSeedCipher(c.ServerEncryptionKey)
	if err != nil {
		return nil, err
	}

	logger := lib.Logger(c.LogFilePath)
	svc = &service.InvoiceHubService{
		Config:     c,
		DB:         dbConn,
		Wallets:    fake,
		Listener:   listener.NewRegistry(fake, c.NetworkID, c.WebhookURI(), listener.WithDB(dbConn), listener.WithLogger(logger)),
		Asset:      asset,
		Cipher:     cipher,
		Mailer:     mail,
		Logger:     logger,
		SweepNudge: make(chan struct{}, 1),
	}
	return svc, nil
}

// newTestEcho registers the production routes without the global rate limiter.
func newTestEcho(svc *service.InvoiceHubService) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = responses.HTTPErrorHandler
	e.Validator = &lib.CustomValidator{Validator: validator.New()}
	e.Logger = svc.Logger

	logMw := transport.CreateLoggingMiddleware(svc.Logger)
	secured := e.Group("", tokens.Middleware(svc.Config.JWTSecret), v2controllers.UserMiddleware(svc), logMw)
	transport.RegisterV2Endpoints(svc, e, secured, transport.CreateRateLimitMiddleware(1000, 1000), tokens.AdminTokenMiddleware(svc.Config.AdminToken), logMw)
	return e
}

func clearTables(svc *service.InvoiceHubService) error {
	for _, model := range []interface{}{(*models.Sweep)(nil), (*models.Payment)(nil), (*models.CheckoutSession)(nil), (*models.Invoice)(nil), (*models.User)(nil)} {
		if _, err := svc.DB.NewDelete().Model(model).Where("1 = 1").Exec(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

func merchantToken(subject string) (string, error) {
	return tokens.GenerateAccessToken(testJWTSecret, 3600, subject, subject+"@example.com", "Acme")
}

type TestSuite struct {
	suite.Suite
	echo *echo.Echo
}

type ExpectedInvoiceResponseBody struct {
	ID                string          `json:"id"`
	PreviousVersionID string          `json:"previous_version_id"`
	Status            string          `json:"status"`
	PaymentCollection string          `json:"payment_collection"`
	WalletAddress     string          `json:"wallet_address"`
	TotalPrice        decimal.Decimal `json:"totalPrice"`
	PayLink           string          `json:"payLink"`
}

type ExpectedSessionResponseBody struct {
	ID            string                       `json:"id"`
	InvoiceID     string                       `json:"invoice_id"`
	Email         string                       `json:"email"`
	Status        string                       `json:"status"`
	WalletAddress string                       `json:"wallet_address"`
	Invoice       *ExpectedInvoiceResponseBody `json:"invoice"`
	CheckoutLink  string                       `json:"checkoutLink"`
}

type ExpectedStatusResponseBody struct {
	Message    string           `json:"message"`
	Status     string           `json:"status"`
	TotalPaid  *decimal.Decimal `json:"totalPaid"`
	TotalPrice *decimal.Decimal `json:"totalPrice"`
	Remaining  *decimal.Decimal `json:"remaining"`
}

func (suite *TestSuite) do(method, target, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		assert.NoError(suite.T(), json.NewEncoder(&buf).Encode(body))
		reader = &buf
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	return rec
}

func (suite *TestSuite) decode(rec *httptest.ResponseRecorder, code int, target interface{}) {
	assert.Equal(suite.T(), code, rec.Code, rec.Body.String())
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(target))
}

func checkErrResponse(suite *TestSuite, rec *httptest.ResponseRecorder, code int) *responses.ErrorResponse {
	errorResponse := &responses.ErrorResponse{}
	suite.decode(rec, code, errorResponse)
	assert.True(suite.T(), errorResponse.Error)
	return errorResponse
}

func (suite *TestSuite) createInvoiceReq(token, collection string, prices ...string) *ExpectedInvoiceResponseBody {
	items := []map[string]string{}
	for i, price := range prices {
		items = append(items, map[string]string{"name": fmt.Sprintf("item %d", i+1), "price": price})
	}
	rec := suite.do(http.MethodPost, "/v2/invoices", token, map[string]interface{}{
		"name":              "Bob",
		"email":             "bob@example.com",
		"paymentCollection": collection,
		"invoiceItems":      items,
	})
	invoice := &ExpectedInvoiceResponseBody{}
	suite.decode(rec, http.StatusCreated, invoice)
	return invoice
}

func (suite *TestSuite) getInvoiceReq(id string) *ExpectedInvoiceResponseBody {
	invoice := &ExpectedInvoiceResponseBody{}
	suite.decode(suite.do(http.MethodGet, "/v2/invoices/"+id, "", nil), http.StatusOK, invoice)
	return invoice
}

func (suite *TestSuite) paymentsReq(token, id string) []models.PaymentSnapshot {
	body := &v2controllers.PaymentsResponseBody{}
	suite.decode(suite.do(http.MethodGet, "/v2/invoices/"+id+"/payments", token, nil), http.StatusOK, body)
	return body.Payments
}

func (suite *TestSuite) createSessionReq(invoiceID, email string) *httptest.ResponseRecorder {
	return suite.do(http.MethodPost, "/v2/checkout-sessions", "", map[string]string{
		"invoiceId": invoiceID,
		"name":      "Payer",
		"email":     email,
	})
}

func activityPayload(asset *assets.Asset, to, hash, value string) []byte {
	payload, _ := json.Marshal(map[string]string{
		"webhookId":       testWebhookID,
		"eventType":       common.EventTypeWalletActivity,
		"network":         asset.NetworkID,
		"from":            "0x00000000000000000000000000000000000000aa",
		"to":              to,
		"transactionHash": hash,
		"value":           value,
		"contractAddress": asset.ContractAddress,
		"blockTime":       "2024-10-01T12:00:00Z",
	})
	return payload
}

func (suite *TestSuite) postWebhook(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	return rec
}

func (suite *TestSuite) postSignedWebhook(payload []byte) *httptest.ResponseRecorder {
	return suite.postWebhook(payload, security.SignWebhookPayload(payload, testWebhookID))
}
