package domain

// Product event types
const (
	ProductCreatedType          = "ProductCreated"
	ProductDetailsUpdatedType   = "ProductDetailsUpdated"
	ProductPriceChangedType     = "ProductPriceChanged"
	ProductStockUpdatedType     = "ProductStockUpdated"
	ProductCategoryChangedType  = "ProductCategoryChanged"
	ProductImageAddedType       = "ProductImageAdded"
	ProductImageRemovedType     = "ProductImageRemoved"
	ProductAttributeSetType     = "ProductAttributeSet"
	ProductAttributeRemovedType = "ProductAttributeRemoved"
	ProductDiscontinuedType     = "ProductDiscontinued"
	ProductReactivatedType      = "ProductReactivated"
)

func init() {
	registerPayload[ProductCreated]()
	registerPayload[ProductDetailsUpdated]()
	registerPayload[ProductPriceChanged]()
	registerPayload[ProductStockUpdated]()
	registerPayload[ProductCategoryChanged]()
	registerPayload[ProductImageAdded]()
	registerPayload[ProductImageRemoved]()
	registerPayload[ProductAttributeSet]()
	registerPayload[ProductAttributeRemoved]()
	registerPayload[ProductDiscontinued]()
	registerPayload[ProductReactivated]()
}

type ProductCreated struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	SKU         string            `json:"sku"`
	Price       float64           `json:"price"`
	Stock       int               `json:"stock"`
	Category    string            `json:"category,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type ProductDetailsUpdated struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ProductPriceChanged struct {
	OldPrice float64 `json:"oldPrice"`
	NewPrice float64 `json:"newPrice"`
}

type ProductStockUpdated struct {
	OldStock int    `json:"oldStock"`
	NewStock int    `json:"newStock"`
	Reason   string `json:"reason,omitempty"`
}

type ProductCategoryChanged struct {
	OldCategory string `json:"oldCategory"`
	NewCategory string `json:"newCategory"`
}

type ProductImageAdded struct {
	URL string `json:"url"`
}

type ProductImageRemoved struct {
	URL string `json:"url"`
}

type ProductAttributeSet struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ProductAttributeRemoved struct {
	Key string `json:"key"`
}

type ProductDiscontinued struct {
	Reason string `json:"reason,omitempty"`
}

type ProductReactivated struct{}

func (ProductCreated) EventType() string          { return ProductCreatedType }
func (ProductDetailsUpdated) EventType() string   { return ProductDetailsUpdatedType }
func (ProductPriceChanged) EventType() string     { return ProductPriceChangedType }
func (ProductStockUpdated) EventType() string     { return ProductStockUpdatedType }
func (ProductCategoryChanged) EventType() string  { return ProductCategoryChangedType }
func (ProductImageAdded) EventType() string       { return ProductImageAddedType }
func (ProductImageRemoved) EventType() string     { return ProductImageRemovedType }
func (ProductAttributeSet) EventType() string     { return ProductAttributeSetType }
func (ProductAttributeRemoved) EventType() string { return ProductAttributeRemovedType }
func (ProductDiscontinued) EventType() string     { return ProductDiscontinuedType }
func (ProductReactivated) EventType() string      { return ProductReactivatedType }
