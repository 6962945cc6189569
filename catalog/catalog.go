// Package catalog normalizes product DTOs from the REST backend into the
// values the cart works with.
package catalog

import (
	"math"
	"strings"

	"github.com/NguyenMinh4869/toystory/cart"
	"github.com/NguyenMinh4869/toystory/internal/opt"
)

// UnnamedProduct is shown for products the backend returns without a name.
const UnnamedProduct = "Unnamed"

// ProductDTO is a product as the backend serves it. Every field but the id
// may be missing.
type ProductDTO struct {
	ProductID int64    `json:"productId"`
	Name      *string  `json:"name"`
	Price     *float64 `json:"price"`
	ImageURL  *string  `json:"imageUrl"`
	Category  *string  `json:"categoryName,omitempty"`
}

// Ref converts d into a cart product. This is the only place absent fields
// are defaulted: a blank name becomes [UnnamedProduct], a missing, negative
// or non-finite price becomes 0, and a missing image becomes "".
func (d ProductDTO) Ref() cart.ProductRef {
	return cart.ProductRef{
		ID:    d.ProductID,
		Name:  d.name().OrElse(UnnamedProduct),
		Price: d.price().OrZero(),
		Image: d.image().OrZero(),
	}
}

func (d ProductDTO) name() opt.Optional[string] {
	return opt.Map(opt.FromPtr(d.Name), strings.TrimSpace).
		Filter(func(s string) bool { return s != "" })
}

func (d ProductDTO) price() opt.Optional[int64] {
	valid := opt.FromPtr(d.Price).Filter(func(p float64) bool {
		return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 && p <= math.MaxInt64
	})
	return opt.Map(valid, func(p float64) int64 { return int64(math.Round(p)) })
}

func (d ProductDTO) image() opt.Optional[string] {
	return opt.Map(opt.FromPtr(d.ImageURL), strings.TrimSpace)
}

// Refs converts a page of DTOs, keeping order. DTOs without an id are dropped.
func Refs(dtos []ProductDTO) []cart.ProductRef {
	out := make([]cart.ProductRef, 0, len(dtos))
	for _, d := range dtos {
		if d.ProductID <= 0 {
			continue
		}
		out = append(out, d.Ref())
	}
	return out
}
