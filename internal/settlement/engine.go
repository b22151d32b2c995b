// Package settlement turns a user's active cart into a debited wallet,
// decremented stock, an immutable ledger record and an inactive cart, all in
// one database transaction.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	"github.com/smartpay-pos/smartpay-backend/internal/ledger"
	"github.com/smartpay-pos/smartpay-backend/internal/notifications"
	"github.com/smartpay-pos/smartpay-backend/internal/products"
	"github.com/smartpay-pos/smartpay-backend/internal/users"
	"github.com/smartpay-pos/smartpay-backend/internal/wallets"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/metrics"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Dispatcher accepts receipts for delivery after commit. It must not block
// for long; an error means the receipt was dropped.
type Dispatcher interface {
	Dispatch(ctx context.Context, receipt notifications.Receipt) error
}

// Params wires the engine's collaborators.
type Params struct {
	DB         txRunner
	Users      *users.Repository
	Carts      cart.CartRepository
	Wallets    wallets.Repository
	Products   products.Repository
	Ledger     ledger.Repository
	Outbox     outboxEmitter
	Dispatcher Dispatcher
	References ReferenceGenerator
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
	Clock      func() time.Time
}

// Engine performs checkout settlement. It never retries; transient failures
// surface as retryable errors for the caller to decide on.
type Engine struct {
	db         txRunner
	users      *users.Repository
	carts      cart.CartRepository
	wallets    wallets.Repository
	products   products.Repository
	ledger     ledger.Repository
	outbox     outboxEmitter
	dispatcher Dispatcher
	refs       ReferenceGenerator
	metrics    *metrics.SettlementMetrics
	logger     *logger.Logger
	now        func() time.Time
}

// NewEngine validates params and builds an engine.
func NewEngine(p Params) (*Engine, error) {
	switch {
	case p.DB == nil:
		return nil, fmt.Errorf("tx runner required")
	case p.Users == nil:
		return nil, fmt.Errorf("users repository required")
	case p.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case p.Wallets == nil:
		return nil, fmt.Errorf("wallet repository required")
	case p.Products == nil:
		return nil, fmt.Errorf("product repository required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger repository required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Dispatcher == nil:
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if p.References == nil {
		p.References = UUIDv7References{}
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Clock == nil {
		p.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		db:         p.DB,
		users:      p.Users,
		carts:      p.Carts,
		wallets:    p.Wallets,
		products:   p.Products,
		ledger:     p.Ledger,
		outbox:     p.Outbox,
		dispatcher: p.Dispatcher,
		refs:       p.References,
		metrics:    p.Metrics,
		logger:     p.Logger,
		now:        p.Clock,
	}, nil
}

// committed carries what the post-commit step needs out of the transaction.
type committed struct {
	user       *models.User
	settlement *models.Settlement
	currency   enums.Currency
}

// Settle settles userID's active cart. Validation failures leave wallet,
// stock, cart and ledger untouched.
func (e *Engine) Settle(ctx context.Context, userID int64) (*Result, error) {
	start := time.Now()
	ctx = e.logger.WithUserID(ctx, userID)
	if userID <= 0 {
		return nil, e.reject(ctx, start, pkgerrors.New(pkgerrors.CodeValidation, "user id must be positive"))
	}

	var out *committed
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = e.settleTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, e.reject(ctx, start, classify(err))
	}

	s := out.settlement
	elapsed := time.Since(start)
	e.metrics.Observe(metrics.OutcomeSuccess, elapsed)
	e.metrics.AddAmount(s.TotalAmount.InexactFloat64())

	logCtx := e.logger.WithFields(e.logger.WithReference(ctx, s.Reference), map[string]any{
		"amount":      s.TotalAmount.StringFixed(2),
		"item_count":  s.ItemCount,
		"cart_id":     s.CartID,
		"duration_ms": elapsed.Milliseconds(),
	})
	e.logger.Info(logCtx, "settlement committed")

	e.notify(logCtx, out)

	return &Result{
		Reference:  s.Reference,
		Status:     StatusSuccess,
		Amount:     s.TotalAmount,
		NewBalance: s.BalanceAfter,
		Currency:   string(out.currency),
		ItemCount:  s.ItemCount,
		Timestamp:  s.CreatedAt,
	}, nil
}

func (e *Engine) settleTx(ctx context.Context, tx *gorm.DB, userID int64) (*committed, error) {
	user, err := e.users.WithTx(tx).FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, err
	}

	cartRepo := e.carts.WithTx(tx)
	if _, err := cartRepo.LockActiveByUserID(ctx, userID); err != nil {
		if errors.Is(err, cart.ErrNoActiveCart) {
			return nil, emptyCartError()
		}
		return nil, err
	}
	snap, err := cart.NewReader(cartRepo).LoadActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snap.IsEmpty() {
		return nil, emptyCartError()
	}
	total := snap.Total()

	walletRepo := e.wallets.WithTx(tx)
	wallet, err := walletRepo.LockByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, wallets.ErrNotFound) {
			return nil, integrityError(fmt.Errorf("user %d has no wallet: %w", userID, err))
		}
		return nil, err
	}
	if wallet.Balance.LessThan(total) {
		return nil, insufficientFundsError(total)
	}

	quantities, productIDs := quantitiesByProduct(snap)
	productRepo := e.products.WithTx(tx)
	locked, err := productRepo.LockByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		product, ok := locked[id]
		if !ok {
			return nil, integrityError(fmt.Errorf("cart %d references missing product %d", snap.CartID, id))
		}
		if product.StockQuantity < quantities[id] {
			return nil, insufficientStockError(&InsufficientStockError{
				ProductID:   id,
				ProductName: product.Name,
				Requested:   quantities[id],
				Available:   product.StockQuantity,
			})
		}
	}

	reference, err := e.refs.NewReference()
	if err != nil {
		return nil, fmt.Errorf("generate reference: %w", err)
	}
	record := buildSettlement(reference, userID, snap, locked, wallet, total, e.now())
	if err := e.ledger.WithTx(tx).Create(ctx, record); err != nil {
		return nil, fmt.Errorf("insert settlement: %w", err)
	}

	for _, id := range productIDs {
		product := locked[id]
		ok, err := productRepo.DecrementStock(ctx, product, quantities[id])
		if err != nil {
			return nil, fmt.Errorf("decrement stock for product %d: %w", id, err)
		}
		if !ok {
			return nil, insufficientStockError(&InsufficientStockError{
				ProductID:   id,
				ProductName: product.Name,
				Requested:   quantities[id],
				Available:   product.StockQuantity,
			})
		}
	}

	ok, err := walletRepo.Debit(ctx, wallet, total)
	if err != nil {
		return nil, fmt.Errorf("debit wallet: %w", err)
	}
	if !ok {
		return nil, insufficientFundsError(total)
	}

	if _, err := cartRepo.DeleteLines(ctx, snap.CartID); err != nil {
		return nil, fmt.Errorf("clear cart lines: %w", err)
	}
	deactivated, err := cartRepo.Deactivate(ctx, snap.CartID)
	if err != nil {
		return nil, fmt.Errorf("deactivate cart: %w", err)
	}
	if !deactivated {
		return nil, emptyCartError()
	}

	if err := e.emitCompleted(ctx, tx, record, wallet); err != nil {
		return nil, fmt.Errorf("emit settlement event: %w", err)
	}

	return &committed{user: user, settlement: record, currency: wallet.Currency}, nil
}

func quantitiesByProduct(snap *cart.Snapshot) (map[int64]int, []int64) {
	quantities := make(map[int64]int, len(snap.Lines))
	for _, line := range snap.Lines {
		quantities[line.ProductID] += line.Quantity
	}
	ids := make([]int64, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return quantities, ids
}

func buildSettlement(reference string, userID int64, snap *cart.Snapshot, locked map[int64]*models.Product, wallet *models.Wallet, total decimal.Decimal, at time.Time) *models.Settlement {
	lines := make([]models.SettlementLine, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		product := locked[line.ProductID]
		lines = append(lines, models.SettlementLine{
			ProductID:    line.ProductID,
			ProductName:  product.Name,
			ProductBrand: product.Brand,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Subtotal:     line.Subtotal,
		})
	}
	return &models.Settlement{
		Reference:     reference,
		UserID:        userID,
		CartID:        snap.CartID,
		TotalAmount:   total,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  wallet.Balance.Sub(total),
		ItemCount:     snap.ItemCount(),
		PaymentMethod: enums.PaymentMethodWallet,
		Status:        enums.SettlementStatusSuccess,
		Lines:         lines,
		CreatedAt:     at,
	}
}

func (e *Engine) emitCompleted(ctx context.Context, tx *gorm.DB, s *models.Settlement, wallet *models.Wallet) error {
	lines := make([]payloads.SettlementLineItem, 0, len(s.Lines))
	for _, line := range s.Lines {
		lines = append(lines, payloads.SettlementLineItem{
			ProductID: line.ProductID,
			Name:      line.ProductName,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			Subtotal:  line.Subtotal.StringFixed(2),
		})
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSettlementCompleted,
		AggregateType: enums.AggregateSettlement,
		AggregateRef:  s.Reference,
		Actor:         &outbox.ActorRef{UserID: s.UserID},
		Data: payloads.SettlementCompletedEvent{
			Reference:    s.Reference,
			UserID:       s.UserID,
			CartID:       s.CartID,
			TotalAmount:  s.TotalAmount.StringFixed(2),
			BalanceAfter: s.BalanceAfter.StringFixed(2),
			Currency:     string(wallet.Currency),
			ItemCount:    s.ItemCount,
			Lines:        lines,
			SettledAt:    s.CreatedAt,
		},
		OccurredAt: s.CreatedAt,
	})
}

// notify hands the receipt off without waiting on delivery. A dropped
// receipt is logged; the settlement stands.
func (e *Engine) notify(ctx context.Context, out *committed) {
	s := out.settlement
	receipt := notifications.Receipt{
		Reference:  s.Reference,
		UserID:     s.UserID,
		Name:       out.user.Name,
		Email:      out.user.Email,
		Amount:     s.TotalAmount,
		NewBalance: s.BalanceAfter,
		Currency:   string(out.currency),
		SettledAt:  s.CreatedAt,
	}
	if out.user.Phone != nil {
		receipt.Phone = *out.user.Phone
	}
	for _, line := range s.Lines {
		receipt.Lines = append(receipt.Lines, notifications.ReceiptLine{
			Name:      line.ProductName,
			Brand:     line.ProductBrand,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		})
	}
	if err := e.dispatcher.Dispatch(ctx, receipt); err != nil {
		e.logger.Warn(e.logger.WithField(ctx, "dispatch_error", err.Error()), "receipt notification dropped")
	}
}

func (e *Engine) reject(ctx context.Context, start time.Time, err error) error {
	code := pkgerrors.CodeOf(err)
	e.metrics.Observe(outcomeFor(code), time.Since(start))

	logCtx := e.logger.WithField(ctx, "error_code", string(code))
	switch {
	case pkgerrors.IsBusinessRejection(code), code == pkgerrors.CodeNotFound, code == pkgerrors.CodeValidation:
		e.logger.Info(logCtx, "settlement rejected")
	case code == pkgerrors.CodeDependency:
		e.logger.Warn(e.logger.WithFields(logCtx, pkgerrors.Dump(err).Fields()), "settlement store unavailable")
	default:
		e.logger.Error(e.logger.WithFields(logCtx, pkgerrors.Dump(err).Fields()), "settlement failed", err)
	}
	return err
}

func outcomeFor(code pkgerrors.Code) string {
	switch code {
	case pkgerrors.CodeEmptyCart:
		return metrics.OutcomeEmptyCart
	case pkgerrors.CodeInsufficientFunds:
		return metrics.OutcomeInsufficientFunds
	case pkgerrors.CodeInsufficientStock:
		return metrics.OutcomeInsufficientStock
	case pkgerrors.CodeNotFound:
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
