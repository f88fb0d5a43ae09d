package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

const ProductAggregateType = "product"

// Revisions counts changes per product sub-field. Each counter moves
// independently of the aggregate version.
type Revisions struct {
	Details    int `json:"details"`
	Price      int `json:"price"`
	Stock      int `json:"stock"`
	Category   int `json:"category"`
	Images     int `json:"images"`
	Attributes int `json:"attributes"`
}

type ProductState struct {
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	SKU                string            `json:"sku"`
	Price              float64           `json:"price"`
	Stock              int               `json:"stock"`
	Category           string            `json:"category,omitempty"`
	Images             []string          `json:"images"`
	Attributes         map[string]string `json:"attributes"`
	Discontinued       bool              `json:"discontinued"`
	DiscontinuedReason string            `json:"discontinuedReason,omitempty"`
	Revisions          Revisions         `json:"revisions"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// ProductDetails is the input for CreateProduct.
type ProductDetails struct {
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	SKU         string            `json:"sku" validate:"required"`
	Price       float64           `json:"price" validate:"gte=0"`
	Stock       int               `json:"stock" validate:"gte=0"`
	Category    string            `json:"category"`
	Images      []string          `json:"images"`
	Attributes  map[string]string `json:"attributes"`
}

type Product struct {
	*AggregateBase
	state ProductState
}

func NewProduct(id string) *Product {
	p := &Product{}
	p.AggregateBase = newAggregateBase(id, ProductAggregateType, p.apply)
	p.state.Attributes = map[string]string{}
	return p
}

func CreateProduct(id string, details ProductDetails) (*Product, error) {
	if blank(id) {
		return nil, InvalidArgument("product id is required")
	}
	if blank(details.Name) {
		return nil, InvalidArgument("product name is required")
	}
	if blank(details.SKU) {
		return nil, InvalidArgument("product sku is required")
	}
	if details.Price < 0 {
		return nil, InvalidArgument("price must not be negative, got %.2f", details.Price)
	}
	if details.Stock < 0 {
		return nil, InvalidArgument("stock must not be negative, got %d", details.Stock)
	}

	p := NewProduct(id)
	if err := p.raise(ProductCreated{
		Name:        details.Name,
		Description: details.Description,
		SKU:         details.SKU,
		Price:       roundMoney(details.Price),
		Stock:       details.Stock,
		Category:    details.Category,
		Images:      slices.Clone(details.Images),
		Attributes:  copyMap(details.Attributes),
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func ProductFromEvents(id string, events []Event) (*Product, error) {
	p := NewProduct(id)
	if err := p.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Product) Name() string         { return p.state.Name }
func (p *Product) SKU() string          { return p.state.SKU }
func (p *Product) Price() float64       { return p.state.Price }
func (p *Product) Stock() int           { return p.state.Stock }
func (p *Product) Category() string     { return p.state.Category }
func (p *Product) IsDiscontinued() bool { return p.state.Discontinued }
func (p *Product) Revisions() Revisions { return p.state.Revisions }
func (p *Product) Images() []string     { return slices.Clone(p.state.Images) }
func (p *Product) Attribute(key string) (string, bool) {
	v, ok := p.state.Attributes[key]
	return v, ok
}

func (p *Product) State() ProductState {
	s := p.state
	s.Images = slices.Clone(p.state.Images)
	s.Attributes = copyMap(p.state.Attributes)
	return s
}

func (p *Product) requireActive() error {
	if p.state.SKU == "" {
		return NotFound(ProductAggregateType, p.ID())
	}
	if p.state.Discontinued {
		return newError(CodeDiscontinued, "product %s is discontinued", p.ID())
	}
	return nil
}

func (p *Product) UpdateDetails(name, description string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if blank(name) {
		return InvalidArgument("product name is required")
	}
	if name == p.state.Name && description == p.state.Description {
		return nil
	}
	return p.raise(ProductDetailsUpdated{Name: name, Description: description})
}

func (p *Product) ChangePrice(price float64) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if price < 0 {
		return InvalidArgument("price must not be negative, got %.2f", price)
	}
	price = roundMoney(price)
	if price == p.state.Price {
		return nil
	}
	return p.raise(ProductPriceChanged{OldPrice: p.state.Price, NewPrice: price})
}

func (p *Product) UpdateStock(stock int, reason string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if stock < 0 {
		return InvalidArgument("stock must not be negative, got %d", stock)
	}
	if stock == p.state.Stock {
		return nil
	}
	return p.raise(ProductStockUpdated{OldStock: p.state.Stock, NewStock: stock, Reason: reason})
}

func (p *Product) ChangeCategory(category string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if blank(category) {
		return InvalidArgument("category is required")
	}
	if category == p.state.Category {
		return nil
	}
	return p.raise(ProductCategoryChanged{OldCategory: p.state.Category, NewCategory: category})
}

func (p *Product) AddImage(url string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if blank(url) {
		return InvalidArgument("image url is required")
	}
	if slices.Contains(p.state.Images, url) {
		return newError(CodeAlreadyExists, "product %s already has image %s", p.ID(), url)
	}
	return p.raise(ProductImageAdded{URL: url})
}

func (p *Product) RemoveImage(url string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if !slices.Contains(p.state.Images, url) {
		return newError(CodeNotFound, "product %s has no image %s", p.ID(), url)
	}
	return p.raise(ProductImageRemoved{URL: url})
}

func (p *Product) SetAttribute(key, value string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if blank(key) {
		return InvalidArgument("attribute key is required")
	}
	if current, ok := p.state.Attributes[key]; ok && current == value {
		return nil
	}
	return p.raise(ProductAttributeSet{Key: key, Value: value})
}

func (p *Product) RemoveAttribute(key string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if _, ok := p.state.Attributes[key]; !ok {
		return newError(CodeNotFound, "product %s has no attribute %s", p.ID(), key)
	}
	return p.raise(ProductAttributeRemoved{Key: key})
}

func (p *Product) Discontinue(reason string) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	return p.raise(ProductDiscontinued{Reason: reason})
}

// Reactivate is the only command a discontinued product accepts.
func (p *Product) Reactivate() error {
	if p.state.SKU == "" {
		return NotFound(ProductAggregateType, p.ID())
	}
	if !p.state.Discontinued {
		return newError(CodeInvalidStatus, "product %s is already active", p.ID())
	}
	return p.raise(ProductReactivated{})
}

func (p *Product) apply(evt Event) error {
	s := &p.state
	switch e := evt.Data.(type) {
	case ProductCreated:
		s.Name = e.Name
		s.Description = e.Description
		s.SKU = e.SKU
		s.Price = e.Price
		s.Stock = e.Stock
		s.Category = e.Category
		s.Images = slices.Clone(e.Images)
		s.Attributes = copyMap(e.Attributes)
		s.Discontinued = false
		s.Revisions = Revisions{Details: 1, Price: 1, Stock: 1, Category: 1, Images: 1, Attributes: 1}
		s.CreatedAt = evt.Metadata.Timestamp

	case ProductDetailsUpdated:
		s.Name = e.Name
		s.Description = e.Description
		s.Revisions.Details++

	case ProductPriceChanged:
		s.Price = e.NewPrice
		s.Revisions.Price++

	case ProductStockUpdated:
		s.Stock = e.NewStock
		s.Revisions.Stock++

	case ProductCategoryChanged:
		s.Category = e.NewCategory
		s.Revisions.Category++

	case ProductImageAdded:
		s.Images = append(s.Images, e.URL)
		s.Revisions.Images++

	case ProductImageRemoved:
		s.Images = slices.DeleteFunc(s.Images, func(u string) bool { return u == e.URL })
		s.Revisions.Images++

	case ProductAttributeSet:
		s.Attributes[e.Key] = e.Value
		s.Revisions.Attributes++

	case ProductAttributeRemoved:
		delete(s.Attributes, e.Key)
		s.Revisions.Attributes++

	case ProductDiscontinued:
		s.Discontinued = true
		s.DiscontinuedReason = e.Reason

	case ProductReactivated:
		s.Discontinued = false
		s.DiscontinuedReason = ""

	default:
		return p.unhandled(evt)
	}

	s.UpdatedAt = evt.Metadata.Timestamp
	return nil
}

func (p *Product) SnapshotState() ([]byte, error) {
	return json.Marshal(p.state)
}

func (p *Product) RestoreSnapshot(version int, state []byte) error {
	var s ProductState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("failed to restore product snapshot: %w", err)
	}
	if s.Attributes == nil {
		s.Attributes = map[string]string{}
	}
	p.state = s
	p.restoreVersion(version)
	return nil
}
