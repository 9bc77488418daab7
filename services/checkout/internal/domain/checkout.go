package domain

// CheckoutSession is the payment session handed to the storefront for an
// order: where to redirect the buyer and which preference it belongs to.
type CheckoutSession struct {
	OrderID      int64  `json:"order_id"`
	PreferenceID string `json:"preference_id"`
	InitPoint    string `json:"init_point"`
}

// SessionOf returns the checkout session carried by an order, or nil when no
// preference has been attached yet.
func SessionOf(o *Order) *CheckoutSession {
	if o == nil || o.PreferenceID == "" || o.InitPoint == "" {
		return nil
	}
	return &CheckoutSession{OrderID: o.ID, PreferenceID: o.PreferenceID, InitPoint: o.InitPoint}
}
