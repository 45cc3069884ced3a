package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mocksmith/internal/logging"
	"mocksmith/internal/metrics"
	"mocksmith/internal/payments"
	"mocksmith/pkg/models"
)

// GetPlans lists subscription plans. Public endpoint.
func (h *Handler) GetPlans(c *gin.Context) {
	ok(c, gin.H{
		"plans":             payments.GetAllPlans(),
		"stripe_configured": h.Stripe.IsConfigured(),
	})
}

// CreateCheckoutSession starts a Stripe checkout for a plan upgrade.
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}
	if !h.Stripe.IsConfigured() {
		fail(c, http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "Billing is not configured")
		return
	}

	var req struct {
		PriceID    string `json:"price_id" binding:"required"`
		SuccessURL string `json:"success_url" binding:"required,url"`
		CancelURL  string `json:"cancel_url" binding:"required,url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "price_id, success_url and cancel_url are required")
		return
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		customer, err := h.Stripe.CreateCustomer(c.Request.Context(), user.Email, user.FullName, map[string]string{
			"user_id": strconv.FormatUint(uint64(user.ID), 10),
		})
		if err != nil {
			fail(c, http.StatusBadGateway, "STRIPE_ERROR", "Failed to create billing customer")
			return
		}
		customerID = customer.ID
		h.DB.Model(user).Update("stripe_customer_id", customerID)
	}

	session, err := h.Stripe.CreateCheckoutSession(c.Request.Context(), customerID, req.PriceID,
		req.SuccessURL, req.CancelURL, map[string]string{
			"user_id": strconv.FormatUint(uint64(user.ID), 10),
		})
	if err != nil {
		if errors.Is(err, payments.ErrInvalidPriceID) {
			fail(c, http.StatusBadRequest, "INVALID_PRICE_ID", "Unknown plan price")
			return
		}
		fail(c, http.StatusBadGateway, "STRIPE_ERROR", "Failed to create checkout session")
		return
	}
	ok(c, session)
}

// CreateBillingPortal opens the Stripe customer portal.
func (h *Handler) CreateBillingPortal(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}
	if !h.Stripe.IsConfigured() || user.StripeCustomerID == "" {
		fail(c, http.StatusBadRequest, "NO_BILLING_ACCOUNT", "No billing account for this user")
		return
	}

	var req struct {
		ReturnURL string `json:"return_url" binding:"required,url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "return_url is required")
		return
	}

	portal, err := h.Stripe.CreateBillingPortalSession(c.Request.Context(), user.StripeCustomerID, req.ReturnURL)
	if err != nil {
		fail(c, http.StatusBadGateway, "STRIPE_ERROR", "Failed to create billing portal session")
		return
	}
	ok(c, portal)
}

// GetSubscription returns the caller's current subscription state.
func (h *Handler) GetSubscription(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}

	if user.StripeSubscriptionID == "" || !h.Stripe.IsConfigured() {
		ok(c, gin.H{"plan": user.SubscriptionTier, "subscription": nil})
		return
	}

	sub, err := h.Stripe.GetSubscription(c.Request.Context(), user.StripeSubscriptionID)
	if err != nil {
		ok(c, gin.H{"plan": user.SubscriptionTier, "subscription": nil})
		return
	}
	ok(c, gin.H{"plan": user.SubscriptionTier, "subscription": sub})
}

// CancelSubscription schedules cancellation at period end.
func (h *Handler) CancelSubscription(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}
	if user.StripeSubscriptionID == "" {
		fail(c, http.StatusBadRequest, "NO_SUBSCRIPTION", "No active subscription")
		return
	}

	sub, err := h.Stripe.CancelSubscription(c.Request.Context(), user.StripeSubscriptionID)
	if err != nil {
		fail(c, http.StatusBadGateway, "STRIPE_ERROR", "Failed to cancel subscription")
		return
	}
	ok(c, sub)
}

// ReactivateSubscription undoes a pending at-period-end cancellation.
func (h *Handler) ReactivateSubscription(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}
	if user.StripeSubscriptionID == "" {
		fail(c, http.StatusBadRequest, "NO_SUBSCRIPTION", "No active subscription")
		return
	}

	sub, err := h.Stripe.ReactivateSubscription(c.Request.Context(), user.StripeSubscriptionID)
	if err != nil {
		fail(c, http.StatusBadGateway, "STRIPE_ERROR", "Failed to reactivate subscription")
		return
	}
	ok(c, sub)
}

// ChangeSubscriptionPlan moves the subscription to a different price.
// The tier itself updates when the subscription.updated webhook lands.
func (h *Handler) ChangeSubscriptionPlan(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}
	if user.StripeSubscriptionID == "" {
		fail(c, http.StatusBadRequest, "NO_SUBSCRIPTION", "No active subscription")
		return
	}

	var req struct {
		PriceID string `json:"price_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "price_id is required")
		return
	}

	sub, err := h.Stripe.UpdateSubscription(c.Request.Context(), user.StripeSubscriptionID, req.PriceID)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidPriceID) {
			fail(c, http.StatusBadRequest, "INVALID_PRICE_ID", "Unknown plan price")
			return
		}
		fail(c, http.StatusBadGateway, "STRIPE_ERROR", "Failed to change subscription plan")
		return
	}
	ok(c, sub)
}

// ListInvoices returns the caller's recent invoices.
func (h *Handler) ListInvoices(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}
	if user.StripeCustomerID == "" || !h.Stripe.IsConfigured() {
		fail(c, http.StatusBadRequest, "NO_BILLING_ACCOUNT", "No billing account for this user")
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "10"), 10, 64)
	invoices, err := h.Stripe.GetInvoices(c.Request.Context(), user.StripeCustomerID, limit)
	if err != nil {
		fail(c, http.StatusBadGateway, "STRIPE_ERROR", "Failed to list invoices")
		return
	}
	ok(c, invoices)
}

// StripeWebhook processes Stripe events and keeps user tiers in sync.
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", "Failed to read webhook payload")
		return
	}

	event, err := h.Stripe.HandleWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		metrics.Get().WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		fail(c, http.StatusBadRequest, "INVALID_WEBHOOK", "Webhook verification failed")
		return
	}

	result := "ignored"
	switch event.Type {
	case "checkout.session.completed",
		"customer.subscription.created",
		"customer.subscription.updated":
		if h.applySubscription(event) {
			result = "applied"
		}
	case "customer.subscription.deleted":
		if h.downgradeCustomer(event.CustomerID) {
			result = "applied"
		}
	case "invoice.payment_failed":
		logging.L().Warn("invoice payment failed",
			zap.String("customer_id", event.CustomerID),
			zap.String("invoice_id", event.InvoiceID))
		result = "logged"
	}

	metrics.Get().WebhookEventsTotal.WithLabelValues(event.Type, result).Inc()
	ok(c, gin.H{"received": true})
}

// applySubscription moves the user onto the plan from the webhook event.
func (h *Handler) applySubscription(event *payments.WebhookEvent) bool {
	if event.CustomerID == "" || event.PlanType == "" {
		return false
	}

	var user models.User
	if err := h.DB.Where("stripe_customer_id = ?", event.CustomerID).First(&user).Error; err != nil {
		logging.L().Warn("webhook for unknown customer", zap.String("customer_id", event.CustomerID))
		return false
	}

	updates := map[string]interface{}{
		"subscription_tier": string(event.PlanType),
	}
	if event.SubscriptionID != "" {
		updates["stripe_subscription_id"] = event.SubscriptionID
	}
	if !event.PeriodEnd.IsZero() {
		updates["subscription_end"] = event.PeriodEnd
	}
	if err := h.DB.Model(&user).Updates(updates).Error; err != nil {
		return false
	}

	logging.L().Info("subscription updated",
		zap.Uint("user_id", user.ID),
		zap.String("plan", string(event.PlanType)))
	return true
}

func (h *Handler) downgradeCustomer(customerID string) bool {
	if customerID == "" {
		return false
	}

	var user models.User
	if err := h.DB.Where("stripe_customer_id = ?", customerID).First(&user).Error; err != nil {
		return false
	}

	err := h.DB.Model(&user).Updates(map[string]interface{}{
		"subscription_tier":      "free",
		"stripe_subscription_id": "",
		"subscription_end":       time.Time{},
	}).Error
	if err != nil {
		return false
	}

	logging.L().Info("subscription canceled, downgraded to free", zap.Uint("user_id", user.ID))
	return true
}
