package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
	"github.com/overtimestaff/escrow/internal/authorization"
	"github.com/overtimestaff/escrow/internal/config"
	"github.com/overtimestaff/escrow/internal/dispute"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/payout"
	"github.com/overtimestaff/escrow/internal/ratelimit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEscrow struct {
	mock.Mock
	escrowdomain.Service
}

func (m *mockEscrow) Create(ctx context.Context, req escrowdomain.CreatePaymentRequest) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(req)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

func (m *mockEscrow) Capture(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

func (m *mockEscrow) ReleaseEscrow(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

func (m *mockEscrow) Payout(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

func (m *mockEscrow) FileDispute(ctx context.Context, id string, req escrowdomain.FileDisputeRequest) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id, req)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

type mockTiers struct {
	mock.Mock
	tierdomain.Service
}

func (m *mockTiers) PricingTierFor(ctx context.Context, agencyID string) (string, error) {
	args := m.Called(agencyID)
	return args.String(0), args.Error(1)
}

func (m *mockTiers) ManualAdjust(ctx context.Context, agencyID string, req tierdomain.ManualAdjustRequest) (*tierdomain.Evaluation, error) {
	args := m.Called(agencyID, req)
	e, _ := args.Get(0).(*tierdomain.Evaluation)
	return e, args.Error(1)
}

type stubAuthz struct {
	err error
}

func (s stubAuthz) Authorize(ctx context.Context, role, actorID, object, action string) error {
	return s.err
}

type fixture struct {
	engine *gin.Engine
	escrow *mockEscrow
	tiers  *mockTiers
}

type denyAll struct{}

func (denyAll) Allow(ctx context.Context, key string, rate float64, burst int) (*ratelimit.Result, error) {
	return &ratelimit.Result{Allowed: false, Limit: burst, RetryAfter: 1500 * time.Millisecond}, nil
}

func newFixture(t *testing.T, authz authorization.Service, opts ...func(*ServerParams)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	escrow := &mockEscrow{}
	tiers := &mockTiers{}
	settings := config.NewStaticSettingsHolder(config.AdminSettings{})
	log := zap.NewNop()

	params := ServerParams{
		Gin:           engine,
		Log:           log,
		AuthzSvc:      authz,
		EscrowSvc:     escrow,
		PayoutSvc:     payout.New(payout.Params{Log: log, Escrow: escrow, Settings: settings}),
		DisputeSvc:    dispute.New(dispute.Params{Log: log, Escrow: escrow, Settings: settings}),
		AgencyTierSvc: tiers,
	}
	for _, opt := range opts {
		opt(&params)
	}
	NewServer(params)

	t.Cleanup(func() {
		escrow.AssertExpectations(t)
		tiers.AssertExpectations(t)
	})
	return &fixture{engine: engine, escrow: escrow, tiers: tiers}
}

func (f *fixture) do(method, path, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderActorID, "actor-1")
		req.Header.Set(HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   errorPayload    `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestActorHeadersAreRequired(t *testing.T) {
	f := newFixture(t, stubAuthz{})

	rec := f.do(http.MethodPost, "/payments/1/capture", "", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "unauthorized", env.Error.Type)
}

func TestForbiddenRole(t *testing.T) {
	f := newFixture(t, stubAuthz{err: authorization.ErrForbidden})

	rec := f.do(http.MethodPost, "/payments/1/capture", authorization.RoleWorker, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode(t, rec).Error.Type)
}

func TestCreatePaymentRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, stubAuthz{})

	rec := f.do(http.MethodPost, "/payments", authorization.RoleSystem, "{")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "validation_error", env.Error.Type)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "invalid_request", env.Error.Errors[0].Code)
}

func TestCreatePaymentValidationFromService(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.escrow.On("Create", mock.Anything).Return(nil, escrowdomain.ErrInvalidHourlyRate)

	rec := f.do(http.MethodPost, "/payments", authorization.RoleSystem,
		`{"shift_id":"1","worker_id":"2","business_id":"3","hourly_rate":"-1","hours_worked":"8","tier":"standard"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "invalid_hourly_rate", env.Error.Errors[0].Code)
}

func TestCreatePaymentUsesAgencyTier(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.tiers.On("PricingTierFor", "agency-9").Return("premium", nil)
	f.escrow.On("Create", mock.MatchedBy(func(req escrowdomain.CreatePaymentRequest) bool {
		return req.Tier == "premium" && req.ShiftID == "1" && req.HoursWorked.Equal(decimal.NewFromInt(8))
	})).Return(&escrowdomain.ShiftPayment{ID: 42, Status: escrowdomain.StatusPending}, nil)

	rec := f.do(http.MethodPost, "/payments", authorization.RoleSystem,
		`{"shift_id":" 1 ","worker_id":"2","business_id":"3","hourly_rate":"25","hours_worked":"8","agency_id":"agency-9"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	var payment escrowdomain.ShiftPayment
	require.NoError(t, json.Unmarshal(env.Data, &payment))
	assert.Equal(t, escrowdomain.StatusPending, payment.Status)
}

func TestCaptureInvalidTransition(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.escrow.On("Capture", "7").Return(nil, fmt.Errorf("capture: %w", escrowdomain.ErrInvalidTransition))

	rec := f.do(http.MethodPost, "/payments/7/capture", authorization.RoleSystem, "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode(t, rec).Error.Type)
}

func TestReleaseConcurrentChange(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.escrow.On("ReleaseEscrow", "7").Return(nil, fmt.Errorf("%w: %w", escrowdomain.ErrConflict, errors.New("locked")))

	rec := f.do(http.MethodPost, "/payments/7/release-escrow", authorization.RoleAdmin, "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode(t, rec).Error.Type)
}

func TestPayoutProcessorFailure(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.escrow.On("Payout", "7").Return(
		&escrowdomain.ShiftPayment{ID: 7, Status: escrowdomain.StatusReleased},
		&escrowdomain.ExternalServiceError{Op: "transfer", Transient: true, Err: errors.New("timeout")},
	)

	rec := f.do(http.MethodPost, "/payments/7/payout", authorization.RoleFinance, "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "external_service", env.Error.Type)
	assert.Equal(t, "payment processor unavailable", env.Error.Message)
}

func TestPaymentNotFound(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.escrow.On("Capture", "404").Return(nil, escrowdomain.ErrPaymentNotFound)

	rec := f.do(http.MethodPost, "/payments/404/capture", authorization.RoleSystem, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, stubAuthz{})

	rec := f.do(http.MethodGet, "/nope", authorization.RoleAdmin, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec).Error.Type)
}

func TestWorkerFilesDisputeAsThemselves(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.escrow.On("FileDispute", "7", mock.MatchedBy(func(req escrowdomain.FileDisputeRequest) bool {
		return req.FiledBy == authorization.RoleWorker && req.Reason == "no show"
	})).Return(&escrowdomain.ShiftPayment{ID: 7, Status: escrowdomain.StatusInEscrow}, nil)

	rec := f.do(http.MethodPost, "/payments/7/dispute", authorization.RoleWorker,
		`{"filed_by":"business","reason":"no show"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
}

func TestAdjustAgencyTierRecordsActor(t *testing.T) {
	f := newFixture(t, stubAuthz{})
	f.tiers.On("ManualAdjust", "agency-1", mock.MatchedBy(func(req tierdomain.ManualAdjustRequest) bool {
		return req.Actor == "actor-1" && req.TierID == "5"
	})).Return(&tierdomain.Evaluation{}, nil)

	rec := f.do(http.MethodPost, "/agencies/agency-1/tier", authorization.RoleAdmin,
		`{"tier_id":"5","reason":"contract renegotiated"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatisticsRejectsBadTime(t *testing.T) {
	f := newFixture(t, stubAuthz{})

	rec := f.do(http.MethodGet, "/statistics/payments?from=yesterday", authorization.RoleFinance, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "invalid_from", env.Error.Errors[0].Code)
}

func TestMoneyMovementIsThrottledPerActor(t *testing.T) {
	f := newFixture(t, stubAuthz{}, func(p *ServerParams) {
		p.Limiter = ratelimit.NewActorLimiterWithBucket(denyAll{}, 1, 1)
	})

	rec := f.do(http.MethodPost, "/payments/7/payout", authorization.RoleFinance, "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode(t, rec).Error.Type)
}
