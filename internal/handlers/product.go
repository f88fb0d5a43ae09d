package handlers

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/repository"
)

// Product command structs
type CreateProductCommand struct {
	Meta
	ProductID string                `json:"productId"`
	Details   domain.ProductDetails `json:"details"`
}

type UpdateProductDetailsCommand struct {
	Meta
	ProductID   string `json:"productId" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type ChangeProductPriceCommand struct {
	Meta
	ProductID string  `json:"productId" validate:"required"`
	Price     float64 `json:"price" validate:"gte=0"`
}

type UpdateProductStockCommand struct {
	Meta
	ProductID string `json:"productId" validate:"required"`
	Stock     int    `json:"stock" validate:"gte=0"`
	Reason    string `json:"reason"`
}

type ChangeProductCategoryCommand struct {
	Meta
	ProductID string `json:"productId" validate:"required"`
	Category  string `json:"category" validate:"required"`
}

type ProductImageCommand struct {
	Meta
	ProductID string `json:"productId" validate:"required"`
	URL       string `json:"url" validate:"required,url"`
}

type ProductAttributeCommand struct {
	Meta
	ProductID string `json:"productId" validate:"required"`
	Key       string `json:"key" validate:"required"`
	Value     string `json:"value"`
}

type DiscontinueProductCommand struct {
	Meta
	ProductID string `json:"productId" validate:"required"`
	Reason    string `json:"reason"`
}

type ProductCommand struct {
	Meta
	ProductID string `json:"productId" validate:"required"`
}

// ProductHandler handles all product-related commands
type ProductHandler struct {
	runner *Runner
	repo   *repository.Repository[*domain.Product]
}

// NewProductHandler creates a new product handler
func NewProductHandler(runner *Runner, repo *repository.Repository[*domain.Product]) *ProductHandler {
	return &ProductHandler{runner: runner, repo: repo}
}

// HandleCreateProduct creates a new product
func (h *ProductHandler) HandleCreateProduct(ctx context.Context, cmd CreateProductCommand) (*domain.Product, error) {
	cmd.ProductID = newID(cmd.ProductID)
	log.Info().Str("aggregateID", cmd.ProductID).Msg("Handling CreateProduct command")

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return create(ctx, h.runner, h.repo, "CreateProduct", cmd.ProductID, cmd.Meta, func() (*domain.Product, error) {
		return domain.CreateProduct(cmd.ProductID, cmd.Details)
	})
}

func (h *ProductHandler) HandleUpdateProductDetails(ctx context.Context, cmd UpdateProductDetailsCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "UpdateProductDetails", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.UpdateDetails(cmd.Name, cmd.Description)
	})
}

func (h *ProductHandler) HandleChangeProductPrice(ctx context.Context, cmd ChangeProductPriceCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "ChangeProductPrice", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.ChangePrice(cmd.Price)
	})
}

func (h *ProductHandler) HandleUpdateProductStock(ctx context.Context, cmd UpdateProductStockCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "UpdateProductStock", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.UpdateStock(cmd.Stock, cmd.Reason)
	})
}

func (h *ProductHandler) HandleChangeProductCategory(ctx context.Context, cmd ChangeProductCategoryCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "ChangeProductCategory", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.ChangeCategory(cmd.Category)
	})
}

func (h *ProductHandler) HandleAddProductImage(ctx context.Context, cmd ProductImageCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "AddProductImage", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.AddImage(cmd.URL)
	})
}

func (h *ProductHandler) HandleRemoveProductImage(ctx context.Context, cmd ProductImageCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "RemoveProductImage", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.RemoveImage(cmd.URL)
	})
}

func (h *ProductHandler) HandleSetProductAttribute(ctx context.Context, cmd ProductAttributeCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "SetProductAttribute", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.SetAttribute(cmd.Key, cmd.Value)
	})
}

func (h *ProductHandler) HandleRemoveProductAttribute(ctx context.Context, cmd ProductAttributeCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "RemoveProductAttribute", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.RemoveAttribute(cmd.Key)
	})
}

func (h *ProductHandler) HandleDiscontinueProduct(ctx context.Context, cmd DiscontinueProductCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "DiscontinueProduct", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.Discontinue(cmd.Reason)
	})
}

func (h *ProductHandler) HandleReactivateProduct(ctx context.Context, cmd ProductCommand) (*domain.Product, error) {
	return handle(ctx, h.runner, h.repo, "ReactivateProduct", cmd.ProductID, cmd.Meta, cmd, func(p *domain.Product) error {
		return p.Reactivate()
	})
}

// GetProduct loads a product for queries; ok is false when it does not exist.
func (h *ProductHandler) GetProduct(ctx context.Context, id string) (*domain.Product, bool, error) {
	return h.repo.FindByID(ctx, id)
}
