// Package cart is the tab-local shopping cart.
//
// A [Store] holds an ordered list of items, at most one per product id, and a
// visibility flag for the cart drawer. Nothing is persisted; a new Store is
// empty.
package cart
