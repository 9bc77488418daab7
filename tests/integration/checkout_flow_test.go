package integration

import (
	"fmt"
	"net/http"
	"testing"
)

func preferenceBody(userID string, productID int64, quantity int) map[string]interface{} {
	return map[string]interface{}{
		"items": []map[string]interface{}{
			{"id": fmt.Sprint(productID), "title": "Integration frame", "quantity": quantity, "unit_price": 1},
		},
		"metadata": map[string]interface{}{
			"user_id":    userID,
			"address_id": 1,
			"payer": map[string]interface{}{
				"name":  "Integration",
				"email": "integration@test.example.com",
			},
		},
	}
}

func createPreference(t *testing.T, userID string, productID int64) (orderID float64, initPoint string, reused bool) {
	t.Helper()
	status, data := httpPostWithHeaders(t, checkoutURL()+"/api/v1/checkout/preference",
		preferenceBody(userID, productID, 1), map[string]string{"X-User-ID": userID})
	requireStatus(t, status, http.StatusCreated, data)
	return extractFloat(t, data, "data.order_id"), extractString(t, data, "init_point"), extractField(data, "data.reused") == true
}

// TestCheckoutPaidFlow exercises the happy path end to end:
//  1. Create a checkout for one frame
//  2. Repeat the same cart and get the same session back
//  3. Approve the payment through the simulated gateway
//  4. See the order as paid, and refuse to cancel it
func TestCheckoutPaidFlow(t *testing.T) {
	skipIfNotRunning(t)
	skipIfNoMockGateway(t)

	userID := uniqueUser("buyer")
	headers := map[string]string{"X-User-ID": userID}
	productID := testProductID(t)

	t.Log("Step 1: Create checkout")
	orderID, initPoint, reused := createPreference(t, userID, productID)
	if reused {
		t.Fatal("first checkout of a new buyer must not be reused")
	}

	t.Log("Step 2: Repeat the same cart")
	againID, againInit, reused := createPreference(t, userID, productID)
	if !reused || againID != orderID || againInit != initPoint {
		t.Fatalf("expected reuse of order %.0f, got order %.0f reused=%v", orderID, againID, reused)
	}

	t.Log("Step 3: Approve payment")
	status, data := httpPostWithHeaders(t, checkoutURL()+"/api/v1/dev/payments", map[string]interface{}{
		"order_id": orderID,
		"status":   "approved",
	}, nil)
	requireStatus(t, status, http.StatusOK, data)
	if outcome := extractString(t, data, "data.outcome"); outcome != "paid" {
		t.Fatalf("expected outcome paid, got %s", outcome)
	}

	t.Log("Step 4: Order is paid")
	orderURL := fmt.Sprintf("%s/api/v1/orders/%.0f", checkoutURL(), orderID)
	status, data = httpGetWithHeaders(t, orderURL, headers)
	requireStatus(t, status, http.StatusOK, data)
	if got := extractString(t, data, "data.status"); got != "paid" {
		t.Fatalf("expected paid order, got %s", got)
	}

	status, data = httpPostWithHeaders(t, orderURL+"/cancel", nil, headers)
	requireStatus(t, status, http.StatusConflict, data)

	// A redelivered approval changes nothing.
	status, data = httpPostWithHeaders(t, checkoutURL()+"/api/v1/dev/payments", map[string]interface{}{
		"order_id": orderID,
		"status":   "approved",
	}, nil)
	requireStatus(t, status, http.StatusOK, data)
	if outcome := extractString(t, data, "data.outcome"); outcome != "unchanged" {
		t.Fatalf("expected outcome unchanged on redelivery, got %s", outcome)
	}
}

// TestCheckoutCancelFlow cancels a pending order and checks that a payment
// arriving afterwards does not revive it.
func TestCheckoutCancelFlow(t *testing.T) {
	skipIfNotRunning(t)
	skipIfNoMockGateway(t)

	userID := uniqueUser("canceller")
	headers := map[string]string{"X-User-ID": userID}

	orderID, _, _ := createPreference(t, userID, testProductID(t))
	orderURL := fmt.Sprintf("%s/api/v1/orders/%.0f", checkoutURL(), orderID)

	status, data := httpPostWithHeaders(t, orderURL+"/cancel", nil, headers)
	requireStatus(t, status, http.StatusOK, data)
	if got := extractString(t, data, "data.cancel_reason"); got != "user_cancelled" {
		t.Fatalf("expected user_cancelled, got %s", got)
	}

	// Cancelling twice is harmless.
	status, data = httpPostWithHeaders(t, orderURL+"/cancel", nil, headers)
	requireStatus(t, status, http.StatusOK, data)

	status, data = httpPostWithHeaders(t, checkoutURL()+"/api/v1/dev/payments", map[string]interface{}{
		"order_id": orderID,
		"status":   "approved",
	}, nil)
	requireStatus(t, status, http.StatusOK, data)
	if outcome := extractString(t, data, "data.outcome"); outcome != "unchanged" {
		t.Fatalf("expected late approval to leave the order cancelled, got %s", outcome)
	}

	// Another buyer cannot see the order.
	status, data = httpGetWithHeaders(t, orderURL, map[string]string{"X-User-ID": uniqueUser("stranger")})
	requireStatus(t, status, http.StatusNotFound, data)
}

// TestWebhookIgnoresOtherTopics checks that non-payment notifications are
// acknowledged without touching orders.
func TestWebhookIgnoresOtherTopics(t *testing.T) {
	skipIfNotRunning(t)

	status, data := httpPostWithHeaders(t, checkoutURL()+"/api/v1/webhooks/mercadopago?topic=merchant_order&id=1", nil, nil)
	requireStatus(t, status, http.StatusOK, data)
	if outcome := extractString(t, data, "outcome"); outcome != "ignored" {
		t.Fatalf("expected ignored, got %s", outcome)
	}
}

// TestCheckoutRequiresIdentity checks that buyer routes reject anonymous calls.
func TestCheckoutRequiresIdentity(t *testing.T) {
	skipIfNotRunning(t)

	status, data := httpPostWithHeaders(t, checkoutURL()+"/api/v1/checkout/preference",
		preferenceBody("anon", testProductID(t), 1), nil)
	requireStatus(t, status, http.StatusUnauthorized, data)
}
