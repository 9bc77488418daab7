package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// CartItem is a product and quantity the shopper wants to buy.
type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// NormalizeCart merges duplicate product ids and sorts by product id. The
// result is the order in which stock rows are locked.
func NormalizeCart(items []CartItem) []CartItem {
	merged := make(map[int64]int, len(items))
	for _, it := range items {
		merged[it.ProductID] += it.Quantity
	}

	out := make([]CartItem, 0, len(merged))
	for id, qty := range merged {
		out = append(out, CartItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// CartFingerprint returns the hex SHA-256 of the normalized cart rendered as
// "id:qty" pairs joined by ",". It does not depend on input order.
func CartFingerprint(items []CartItem) string {
	normalized := NormalizeCart(items)

	var b strings.Builder
	for i, it := range normalized {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(it.ProductID, 10))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(it.Quantity))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
