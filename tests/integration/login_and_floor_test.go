package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/millbright/factoryops/backend/internal/alerts"
	"github.com/millbright/factoryops/backend/internal/auth"
	"github.com/millbright/factoryops/backend/internal/config"
	"github.com/millbright/factoryops/backend/internal/database"
	"github.com/millbright/factoryops/backend/internal/dispatch"
	"github.com/millbright/factoryops/backend/internal/floor"
	"github.com/millbright/factoryops/backend/internal/relay"
	"github.com/millbright/factoryops/backend/internal/reports"
	"github.com/millbright/factoryops/backend/internal/server"
)

const jsonContentType = "application/json"

// The full login-to-report path: open the database through the production
// entry point, verify an operator OTP, record a dispatched update with the
// issued token, then pull the admin aggregates and a report as a manager.
func TestLoginAndDispatchFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	appConfig := config.AppConfig{
		DatabaseDriver: config.DriverSQLite,
		DatabaseDSN:    "file:integration-flow?mode=memory&cache=shared",
	}
	db, err := database.Open(appConfig, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	verifier, err := auth.NewVerifier(auth.VerifierConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build verifier: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-secret"),
		Issuer:        "factoryops-auth",
		Audience:      "factoryops-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to build token issuer: %v", err)
	}

	broadcaster := relay.NewBroadcaster()
	floorService, err := floor.NewService(floor.ServiceConfig{Database: db, Publisher: broadcaster})
	if err != nil {
		testContext.Fatalf("failed to build floor service: %v", err)
	}
	dispatchService, err := dispatch.NewService(dispatch.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build dispatch service: %v", err)
	}
	alertsService, err := alerts.NewService(alerts.ServiceConfig{Database: db, Publisher: broadcaster, Directory: verifier})
	if err != nil {
		testContext.Fatalf("failed to build alerts service: %v", err)
	}
	reportsService, err := reports.NewService(reports.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build reports service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		FloorService:     floorService,
		DispatchService:  dispatchService,
		AlertsService:    alertsService,
		ReportsService:   reportsService,
		Verifier:         verifier,
		Tokens:           issuer,
		Broadcaster:      broadcaster,
		OTPRatePerMinute: 600,
		OTPBurst:         100,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	operator := auth.Operator{Phone: "+15550003333", Username: "jordan", CreatedAt: time.Now().UTC()}
	if err := db.Create(&operator).Error; err != nil {
		testContext.Fatalf("failed to seed operator: %v", err)
	}
	codeHash, err := auth.HashCode("914276")
	if err != nil {
		testContext.Fatalf("failed to hash code: %v", err)
	}
	operatorOTP := auth.OperatorOTP{OperatorID: operator.ID, CodeHash: codeHash, ExpiresAt: time.Now().UTC().Add(5 * time.Minute)}
	if err := db.Create(&operatorOTP).Error; err != nil {
		testContext.Fatalf("failed to seed otp: %v", err)
	}

	verifyBody, _ := json.Marshal(map[string]string{"phone": "+15550003333", "otp": "914276"})
	verifyResponse, err := http.Post(testServer.URL+"/verify-operator-otp", jsonContentType, bytes.NewReader(verifyBody))
	if err != nil {
		testContext.Fatalf("verify request failed: %v", err)
	}
	defer verifyResponse.Body.Close()
	if verifyResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected verify status: %d", verifyResponse.StatusCode)
	}
	var verifyResult struct {
		AccessToken string `json:"access_token"`
		FirstTime   bool   `json:"firstTime"`
	}
	if err := json.NewDecoder(verifyResponse.Body).Decode(&verifyResult); err != nil {
		testContext.Fatalf("failed to decode verify response: %v", err)
	}
	if verifyResult.AccessToken == "" {
		testContext.Fatalf("expected access token")
	}
	if verifyResult.FirstTime {
		testContext.Fatalf("operator with a username should not be first-time")
	}

	updateBody, _ := json.Marshal(map[string]any{
		"product":        "Bracket",
		"processSteps":   map[string]bool{"cutting": true, "welding": true},
		"dispatchStatus": dispatch.StatusDispatched,
		"dispatchedCost": 125.5,
	})
	updateRequest, _ := http.NewRequest(http.MethodPost, testServer.URL+"/operator/update", bytes.NewReader(updateBody))
	updateRequest.Header.Set("Content-Type", jsonContentType)
	updateRequest.Header.Set("Authorization", "Bearer "+verifyResult.AccessToken)
	updateResponse, err := http.DefaultClient.Do(updateRequest)
	if err != nil {
		testContext.Fatalf("update request failed: %v", err)
	}
	defer updateResponse.Body.Close()
	if updateResponse.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected update status: %d", updateResponse.StatusCode)
	}

	managerToken, _, err := issuer.IssueSessionToken(context.Background(), auth.Subject(auth.SubjectKindUser, 1))
	if err != nil {
		testContext.Fatalf("failed to issue manager token: %v", err)
	}
	detailsRequest, _ := http.NewRequest(http.MethodGet, testServer.URL+"/admin/dispatched-details", nil)
	detailsRequest.Header.Set("Authorization", "Bearer "+managerToken)
	detailsResponse, err := http.DefaultClient.Do(detailsRequest)
	if err != nil {
		testContext.Fatalf("details request failed: %v", err)
	}
	defer detailsResponse.Body.Close()
	if detailsResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected details status: %d", detailsResponse.StatusCode)
	}
	var stats dispatch.DailyDispatchStats
	if err := json.NewDecoder(detailsResponse.Body).Decode(&stats); err != nil {
		testContext.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalCount != 1 || stats.TotalAmount != 125.5 {
		testContext.Fatalf("unexpected daily stats: %+v", stats)
	}

	reportRequest, _ := http.NewRequest(http.MethodGet, testServer.URL+"/reports/download?reportType=daily&filter=Product%20Wise", nil)
	reportRequest.Header.Set("Authorization", "Bearer "+managerToken)
	reportResponse, err := http.DefaultClient.Do(reportRequest)
	if err != nil {
		testContext.Fatalf("report request failed: %v", err)
	}
	defer reportResponse.Body.Close()
	if reportResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected report status: %d", reportResponse.StatusCode)
	}
	if reportResponse.ContentLength == 0 {
		testContext.Fatalf("expected report bytes")
	}
}
