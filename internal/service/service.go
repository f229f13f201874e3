// Package service реализует бизнес-логику денежного ящика: продажи, выплаты,
// внесения, изъятия и отмены записей журнала.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cash-drawer/internal/cache"
	"github.com/mmeshcher/cash-drawer/internal/drawer"
	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
)

var (
	// ErrInsufficientPayment возвращается, если внесено меньше стоимости корзины.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrInsufficientChange возвращается, если сдачу нельзя набрать из ящика.
	ErrInsufficientChange = errors.New("insufficient change in drawer")
	// ErrInvalidAmount возвращается для пустой или некорректной суммы.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrEmptyCart возвращается для продажи без товаров.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidProduct возвращается для товара без названия или с отрицательной ценой.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrUnknownParty возвращается для неизвестного вида получателя выплаты.
	ErrUnknownParty = errors.New("unknown party kind")
	// ErrInvalidDiscount возвращается для некорректного условия скидки.
	ErrInvalidDiscount = errors.New("invalid discount")

	ErrInsufficientFunds = drawer.ErrInsufficientFunds
	ErrNotFound          = repository.ErrNotFound
	ErrAlreadyReverted   = repository.ErrAlreadyReverted
	ErrNotRevertible     = repository.ErrNotRevertible
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateInstance(ctx context.Context, id string) (model.PosInstance, error)
	GetInstance(ctx context.Context, id string) (model.PosInstance, error)
	InInstanceTx(ctx context.Context, instanceID string, fn repository.TxFunc) error
	ListEntries(ctx context.Context, instanceID string) ([]model.LedgerEntry, error)
	GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error)
	CreateProduct(ctx context.Context, instanceID string, in repository.ProductInput) (model.Product, error)
	UpdateProduct(ctx context.Context, instanceID string, productID int64, in repository.ProductInput) (model.Product, error)
	DeleteProduct(ctx context.Context, instanceID string, productID int64) error
	ListProducts(ctx context.Context, instanceID string) ([]model.Product, error)
	CreateDiscount(ctx context.Context, instanceID string, in repository.DiscountInput) (model.Discount, error)
	ListDiscounts(ctx context.Context, instanceID string) ([]model.Discount, error)
	DeleteDiscount(ctx context.Context, discountID int64) error
	Catalog
}

// Catalog описывает поиск товаров при продаже и расчёте выплат продавцам.
type Catalog interface {
	GetProducts(ctx context.Context, instanceID string, ids []int64) ([]model.Product, error)
	FindProductsBySeller(ctx context.Context, instanceID, seller string) ([]model.Product, error)
}

// BalanceCache хранит снимки баланса кассы.
type BalanceCache interface {
	Get(ctx context.Context, instanceID string) (cache.Snapshot, bool, error)
	Put(ctx context.Context, instanceID string, snap cache.Snapshot) error
	Invalidate(ctx context.Context, instanceID string) error
}

// Service содержит бизнес-логику денежного ящика.
type Service struct {
	repo      Repository
	catalog   Catalog
	cache     BalanceCache
	discounts DiscountEngine
	set       model.DenominationSet
	logger    *zap.Logger
	newID     func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithCatalog задаёт внешний каталог товаров вместо таблицы товаров хранилища.
func WithCatalog(c Catalog) Option {
	return func(s *Service) {
		s.catalog = c
	}
}

// WithBalanceCache включает кэш снимков баланса.
func WithBalanceCache(c BalanceCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithDenominations задаёт набор номиналов.
func WithDenominations(set model.DenominationSet) Option {
	return func(s *Service) {
		s.set = set
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService создаёт сервис поверх хранилища repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		catalog: repo,
		set:     model.DefaultDenominations,
		logger:  zap.NewNop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Denominations возвращает набор номиналов сервиса.
func (s *Service) Denominations() model.DenominationSet {
	return s.set
}

// CreateInstance создаёт новую кассу.
func (s *Service) CreateInstance(ctx context.Context) (model.PosInstance, error) {
	return s.repo.CreateInstance(ctx, s.newID())
}

// GetInstance возвращает кассу по идентификатору.
func (s *Service) GetInstance(ctx context.Context, id string) (model.PosInstance, error) {
	return s.repo.GetInstance(ctx, id)
}

// ListProducts возвращает товары кассы.
func (s *Service) ListProducts(ctx context.Context, instanceID string) ([]model.Product, error) {
	if _, err := s.repo.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, instanceID)
}

// CreateProduct добавляет товар в каталог кассы.
func (s *Service) CreateProduct(ctx context.Context, instanceID string, in repository.ProductInput) (model.Product, error) {
	in, err := normalizeProduct(in)
	if err != nil {
		return model.Product{}, err
	}
	return s.repo.CreateProduct(ctx, instanceID, in)
}

// UpdateProduct изменяет товар кассы.
func (s *Service) UpdateProduct(ctx context.Context, instanceID string, productID int64, in repository.ProductInput) (model.Product, error) {
	in, err := normalizeProduct(in)
	if err != nil {
		return model.Product{}, err
	}
	return s.repo.UpdateProduct(ctx, instanceID, productID, in)
}

// DeleteProduct удаляет товар из каталога. Проданные товары остаются за продавцом.
func (s *Service) DeleteProduct(ctx context.Context, instanceID string, productID int64) error {
	return s.repo.DeleteProduct(ctx, instanceID, productID)
}

func normalizeProduct(in repository.ProductInput) (repository.ProductInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, fmt.Errorf("%w: name is empty", ErrInvalidProduct)
	}
	if in.Price < 0 {
		return in, fmt.Errorf("%w: price %d", ErrInvalidProduct, in.Price)
	}
	if in.SellerName != nil {
		seller := strings.TrimSpace(*in.SellerName)
		if seller == "" {
			in.SellerName = nil
		} else {
			in.SellerName = &seller
		}
	}
	return in, nil
}
