// Package dbtest opens throwaway SQLite databases with the full schema and
// seeds fixtures for repository and settlement tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
)

// Open returns an isolated in-memory database. The pool is capped at one
// connection so concurrent transactions queue instead of failing with
// SQLITE_BUSY.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:smartpay_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(
		&models.User{},
		&models.Wallet{},
		&models.Product{},
		&models.RFIDTag{},
		&models.Cart{},
		&models.CartLine{},
		&models.Settlement{},
		&models.SettlementLine{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Money parses a fixed-point literal and fails the test on bad input.
func Money(t testing.TB, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse money %q: %v", value, err)
	}
	return d
}

func MustCreateUser(t testing.TB, db *gorm.DB, name string) *models.User {
	t.Helper()
	phone := "+910000000000"
	user := &models.User{
		Name:  name,
		Email: fmt.Sprintf("%s_%s@example.com", name, uuid.NewString()[:8]),
		Phone: &phone,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func MustCreateWallet(t testing.TB, db *gorm.DB, userID int64, balance string) *models.Wallet {
	t.Helper()
	wallet := &models.Wallet{
		UserID:   userID,
		Balance:  Money(t, balance),
		Currency: enums.DefaultCurrency,
	}
	if err := db.Create(wallet).Error; err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return wallet
}

func MustCreateProduct(t testing.TB, db *gorm.DB, name, price string, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:          name,
		Brand:         "House",
		Price:         Money(t, price),
		StockQuantity: stock,
		IsActive:      true,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func MustCreateTag(t testing.TB, db *gorm.DB, tag string, productID int64) *models.RFIDTag {
	t.Helper()
	row := &models.RFIDTag{Tag: tag, ProductID: productID, IsActive: true}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("create tag: %v", err)
	}
	return row
}

// LineSpec describes a cart line fixture. The unit price is taken from the
// product unless Price is set.
type LineSpec struct {
	Product  *models.Product
	Quantity int
	Price    string
}

func MustCreateCart(t testing.TB, db *gorm.DB, userID int64, lines ...LineSpec) *models.Cart {
	t.Helper()
	cart := &models.Cart{UserID: userID, IsActive: true}
	if err := db.Create(cart).Error; err != nil {
		t.Fatalf("create cart: %v", err)
	}
	for _, spec := range lines {
		price := spec.Product.Price
		if spec.Price != "" {
			price = Money(t, spec.Price)
		}
		line := models.CartLine{
			CartID:    cart.ID,
			ProductID: spec.Product.ID,
			Quantity:  spec.Quantity,
			UnitPrice: price,
		}
		line.Recompute()
		if err := db.Create(&line).Error; err != nil {
			t.Fatalf("create cart line: %v", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	return cart
}

func ReloadWallet(t testing.TB, db *gorm.DB, userID int64) models.Wallet {
	t.Helper()
	var wallet models.Wallet
	if err := db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		t.Fatalf("reload wallet: %v", err)
	}
	return wallet
}

func ReloadProduct(t testing.TB, db *gorm.DB, id int64) models.Product {
	t.Helper()
	var product models.Product
	if err := db.First(&product, id).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	return product
}

func ReloadCart(t testing.TB, db *gorm.DB, id int64) models.Cart {
	t.Helper()
	var cart models.Cart
	if err := db.Preload("Lines").First(&cart, id).Error; err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	return cart
}

func CountRows(t testing.TB, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}
