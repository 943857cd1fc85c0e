package httpapi_test

import (
	"context"
	"sync"
	"time"

	"fruitripe.dev/chamber-hub/internal/auth"
	"fruitripe.dev/chamber-hub/internal/store"
)

// stubAuth scripts the token service behind the handlers.
type stubAuth struct {
	session    *auth.Session
	err        error
	reset      *auth.ResetRequest
	claims     map[string]*auth.Claims
	logoutErr  error
	resetErr   error
	lastParams sync.Map
}

func (s *stubAuth) Register(_ context.Context, name, email, password string) (*auth.Session, error) {
	s.lastParams.Store("register", []string{name, email, password})
	return s.session, s.err
}

func (s *stubAuth) Login(_ context.Context, email, password string) (*auth.Session, error) {
	s.lastParams.Store("login", []string{email, password})
	return s.session, s.err
}

func (s *stubAuth) Refresh(_ context.Context, refreshToken string) (*auth.Session, error) {
	s.lastParams.Store("refresh", []string{refreshToken})
	return s.session, s.err
}

func (s *stubAuth) Logout(_ context.Context, refreshToken string) error {
	s.lastParams.Store("logout", []string{refreshToken})
	return s.logoutErr
}

func (s *stubAuth) ForgotPassword(_ context.Context, email string) (*auth.ResetRequest, error) {
	s.lastParams.Store("forgot", []string{email})
	if s.reset == nil {
		return &auth.ResetRequest{}, s.err
	}
	return s.reset, s.err
}

func (s *stubAuth) ResetPassword(_ context.Context, token, newPassword string) error {
	s.lastParams.Store("reset", []string{token, newPassword})
	return s.resetErr
}

func (s *stubAuth) VerifyAccessToken(token string) (*auth.Claims, error) {
	claims, ok := s.claims[token]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return claims, nil
}

// stubQueries scripts the chamber query surface and records call arguments.
type stubQueries struct {
	mu sync.Mutex

	chambers []store.ChamberWithReading
	readings []store.SensorReading
	events   []store.DeviceEvent
	rules    []store.AlertRule
	owned    bool
	err      error

	readingsArgs []readingsCall
	eventsLimit  int
	upserted     *store.AlertRule
}

type readingsCall struct {
	ChamberID uint
	UserID    uint
	Since     time.Time
	Limit     int
}

func (s *stubQueries) ListChambersWithLatest(_ context.Context, _ uint) ([]store.ChamberWithReading, error) {
	return s.chambers, s.err
}

func (s *stubQueries) ReadingsInRange(_ context.Context, chamberID, userID uint, since time.Time, limit int) ([]store.SensorReading, error) {
	s.mu.Lock()
	s.readingsArgs = append(s.readingsArgs, readingsCall{
		ChamberID: chamberID,
		UserID:    userID,
		Since:     since,
		Limit:     limit,
	})
	s.mu.Unlock()
	return s.readings, s.err
}

func (s *stubQueries) RecentDeviceEvents(_ context.Context, _, _ uint, limit int) ([]store.DeviceEvent, error) {
	s.mu.Lock()
	s.eventsLimit = limit
	s.mu.Unlock()
	return s.events, s.err
}

func (s *stubQueries) AlertRules(_ context.Context, _, _ uint) ([]store.AlertRule, error) {
	return s.rules, s.err
}

func (s *stubQueries) UpsertAlertRule(_ context.Context, rule *store.AlertRule) error {
	s.mu.Lock()
	s.upserted = rule
	s.mu.Unlock()
	return s.err
}

func (s *stubQueries) ChamberOwned(_ context.Context, _, _ uint) (bool, error) {
	return s.owned, s.err
}

func (s *stubQueries) lastReadingsCall() readingsCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readingsArgs[len(s.readingsArgs)-1]
}
