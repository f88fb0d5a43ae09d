package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestProduct(t *testing.T) *Product {
	t.Helper()

	product, err := CreateProduct("prod-1", ProductDetails{
		Name:     "Water 500ml",
		SKU:      "W500",
		Price:    0.5,
		Stock:    100,
		Category: "beverages",
	})
	require.NoError(t, err)
	return product
}

func TestProductRevisionsAreIndependent(t *testing.T) {
	product := newTestProduct(t)

	require.NoError(t, product.ChangePrice(0.75))
	require.NoError(t, product.ChangePrice(0.8))
	require.NoError(t, product.UpdateStock(90, "sold"))
	require.NoError(t, product.AddImage("https://cdn/img/1.png"))
	require.NoError(t, product.SetAttribute("volume", "500ml"))

	rev := product.Revisions()
	require.Equal(t, 3, rev.Price)
	require.Equal(t, 2, rev.Stock)
	require.Equal(t, 1, rev.Category)
	require.Equal(t, 2, rev.Images)
	require.Equal(t, 2, rev.Attributes)
	require.Equal(t, 6, product.Version())

	// unchanged values produce no event
	require.NoError(t, product.ChangePrice(0.8))
	require.Equal(t, 6, product.Version())
}

func TestDiscontinuedProductOnlyAcceptsReactivate(t *testing.T) {
	product := newTestProduct(t)
	require.True(t, HasCode(product.Reactivate(), CodeInvalidStatus))

	require.NoError(t, product.Discontinue("recalled"))
	require.True(t, product.IsDiscontinued())

	before := product.Version()
	require.True(t, HasCode(product.ChangePrice(1), CodeDiscontinued))
	require.True(t, HasCode(product.UpdateStock(1, "x"), CodeDiscontinued))
	require.True(t, HasCode(product.AddImage("https://cdn/img/2.png"), CodeDiscontinued))
	require.True(t, HasCode(product.Discontinue("again"), CodeDiscontinued))
	require.Equal(t, before, product.Version())

	require.NoError(t, product.Reactivate())
	require.False(t, product.IsDiscontinued())
	require.NoError(t, product.ChangePrice(1))
}

func TestProductImagesAndAttributes(t *testing.T) {
	product := newTestProduct(t)

	require.NoError(t, product.AddImage("a.png"))
	require.True(t, HasCode(product.AddImage("a.png"), CodeAlreadyExists))
	require.NoError(t, product.RemoveImage("a.png"))
	require.True(t, HasCode(product.RemoveImage("a.png"), CodeNotFound))

	require.NoError(t, product.SetAttribute("color", "blue"))
	v, ok := product.Attribute("color")
	require.True(t, ok)
	require.Equal(t, "blue", v)
	require.NoError(t, product.RemoveAttribute("color"))
	require.True(t, HasCode(product.RemoveAttribute("color"), CodeNotFound))

	replayed, err := ProductFromEvents("prod-1", product.UncommittedEvents())
	require.NoError(t, err)
	require.Equal(t, product.State(), replayed.State())
}
