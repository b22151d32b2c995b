// Package lanes binds checkout lane devices (RFID readers, kiosks) to the
// shopper currently using them. Every cart-mutating scan names its lane and
// the binding supplies the user.
package lanes

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	"github.com/smartpay-pos/smartpay-backend/internal/users"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

type bindingStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	LaneKey(deviceID string) string
}

type userLoader interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type scanner interface {
	AddScannedTags(ctx context.Context, userID int64, tags []string) (*cart.AddResult, error)
}

// Binding is the current owner of a lane.
type Binding struct {
	DeviceID string
	UserID   int64
	TTL      time.Duration
}

// Service manages lane bindings and routes scans to the bound user's cart.
type Service struct {
	store  bindingStore
	users  userLoader
	carts  scanner
	ttl    time.Duration
	logger *logger.Logger
}

// NewService wires the lane service.
func NewService(store bindingStore, users userLoader, carts scanner, ttl time.Duration, logg *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("binding store required")
	}
	if users == nil {
		return nil, fmt.Errorf("user loader required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart scanner required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("binding ttl must be positive")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{store: store, users: users, carts: carts, ttl: ttl, logger: logg}, nil
}

// Bind assigns the lane to userID, replacing any previous binding.
func (s *Service) Bind(ctx context.Context, deviceID string, userID int64) (*Binding, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id must be positive")
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if err := s.store.Set(ctx, s.store.LaneKey(deviceID), strconv.FormatInt(userID, 10), s.ttl); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store lane binding")
	}

	logCtx := s.logger.WithUserID(s.logger.WithDeviceID(ctx, deviceID), userID)
	s.logger.Info(logCtx, "lane bound")
	return &Binding{DeviceID: deviceID, UserID: userID, TTL: s.ttl}, nil
}

// Resolve returns the user bound to the lane and slides the binding TTL.
func (s *Service) Resolve(ctx context.Context, deviceID string) (int64, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return 0, err
	}
	key := s.store.LaneKey(deviceID)
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "lane is not bound to a user")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read lane binding")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("corrupt lane binding %q", raw), "read lane binding")
	}
	if _, err := s.store.Expire(ctx, key, s.ttl); err != nil {
		s.logger.Warn(s.logger.WithDeviceID(ctx, deviceID), "lane binding ttl refresh failed")
	}
	return userID, nil
}

// Release clears the lane binding. Releasing an unbound lane is a no-op.
func (s *Service) Release(ctx context.Context, deviceID string) error {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return err
	}
	if err := s.store.Del(ctx, s.store.LaneKey(deviceID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release lane binding")
	}
	s.logger.Info(s.logger.WithDeviceID(ctx, deviceID), "lane released")
	return nil
}

// Scan adds the scanned tags to the cart of the user bound to the lane.
func (s *Service) Scan(ctx context.Context, deviceID string, tags []string) (int64, *cart.AddResult, error) {
	userID, err := s.Resolve(ctx, deviceID)
	if err != nil {
		return 0, nil, err
	}
	res, err := s.carts.AddScannedTags(ctx, userID, tags)
	if err != nil {
		return userID, nil, err
	}
	if len(res.UnknownTags) > 0 {
		logCtx := s.logger.WithFields(s.logger.WithDeviceID(ctx, deviceID), map[string]any{
			"unknown_tags": res.UnknownTags,
		})
		s.logger.Warn(logCtx, "scan contained unknown tags")
	}
	return userID, res, nil
}

func normalizeDeviceID(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if !deviceIDPattern.MatchString(deviceID) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid device id")
	}
	return deviceID, nil
}
