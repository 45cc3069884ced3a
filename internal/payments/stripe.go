// Stripe integration for Mocksmith subscriptions: checkout, billing
// portal, subscription lifecycle and webhook processing.

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"

	"mocksmith/internal/logging"
	"mocksmith/internal/usage"
)

var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidWebhook       = errors.New("invalid webhook signature")
	ErrInvalidPriceID       = errors.New("invalid price ID")
	ErrNotConfigured        = errors.New("stripe is not configured")
)

// StripeService handles all Stripe payment operations
type StripeService struct {
	secretKey     string
	webhookSecret string
	planConfig    *PlanConfig
}

// WebhookEvent represents a processed webhook event
type WebhookEvent struct {
	Type           string             `json:"type"`
	CustomerID     string             `json:"customer_id,omitempty"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	PriceID        string             `json:"price_id,omitempty"`
	Status         SubscriptionStatus `json:"status,omitempty"`
	PlanType       usage.PlanType     `json:"plan_type,omitempty"`
	InvoiceID      string             `json:"invoice_id,omitempty"`
	Amount         int64              `json:"amount,omitempty"`
	Currency       string             `json:"currency,omitempty"`
	PeriodStart    time.Time          `json:"period_start,omitempty"`
	PeriodEnd      time.Time          `json:"period_end,omitempty"`
	CancelAt       *time.Time         `json:"cancel_at,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}

// CheckoutSessionResult represents the result of creating a checkout session
type CheckoutSessionResult struct {
	SessionID  string `json:"session_id"`
	URL        string `json:"url"`
	CustomerID string `json:"customer_id"`
}

// PortalSessionResult represents the result of creating a billing portal session
type PortalSessionResult struct {
	URL string `json:"url"`
}

// SubscriptionInfo represents detailed subscription information
type SubscriptionInfo struct {
	ID                 string             `json:"id"`
	CustomerID         string             `json:"customer_id"`
	Status             SubscriptionStatus `json:"status"`
	PlanType           usage.PlanType     `json:"plan_type"`
	PriceID            string             `json:"price_id"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CancelAt           *time.Time         `json:"cancel_at,omitempty"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

// CustomerInfo represents Stripe customer information
type CustomerInfo struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Created  time.Time         `json:"created"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// InvoiceInfo represents invoice information
type InvoiceInfo struct {
	ID               string     `json:"id"`
	CustomerID       string     `json:"customer_id"`
	SubscriptionID   string     `json:"subscription_id,omitempty"`
	Status           string     `json:"status"`
	AmountDue        int64      `json:"amount_due"`
	AmountPaid       int64      `json:"amount_paid"`
	Currency         string     `json:"currency"`
	Created          time.Time  `json:"created"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	HostedInvoiceURL string     `json:"hosted_invoice_url,omitempty"`
	InvoicePDF       string     `json:"invoice_pdf,omitempty"`
}

// NewStripeService creates a new Stripe service instance
func NewStripeService(secretKey string) *StripeService {
	if secretKey == "" {
		secretKey = os.Getenv("STRIPE_SECRET_KEY")
	}

	stripe.Key = secretKey

	return &StripeService{
		secretKey:     secretKey,
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		planConfig:    LoadPlanConfig(),
	}
}

// IsConfigured returns true if Stripe is properly configured
func (s *StripeService) IsConfigured() bool {
	return s.secretKey != "" && s.secretKey != "sk_test_xxx"
}

// CreateCustomer creates a new Stripe customer
func (s *StripeService) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*CustomerInfo, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	if metadata != nil {
		params.Metadata = metadata
	}

	c, err := customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	return &CustomerInfo{
		ID:       c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Created:  time.Unix(c.Created, 0),
		Metadata: c.Metadata,
	}, nil
}

// CreateCheckoutSession creates a Stripe checkout session for a
// subscription purchase or upgrade.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string, metadata map[string]string) (*CheckoutSessionResult, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}

	plan := GetPlanByPriceID(priceID)
	if plan == nil {
		return nil, ErrInvalidPriceID
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}

	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else {
		params.CustomerCreation = stripe.String("always")
	}

	if plan.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(plan.TrialDays))
	}
	if metadata != nil {
		params.Metadata = metadata
	}

	params.AllowPromotionCodes = stripe.Bool(true)
	params.BillingAddressCollection = stripe.String("auto")

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	result := &CheckoutSessionResult{
		SessionID: sess.ID,
		URL:       sess.URL,
	}
	if sess.Customer != nil {
		result.CustomerID = sess.Customer.ID
	}
	return result, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session
func (s *StripeService) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (*PortalSessionResult, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if customerID == "" {
		return nil, ErrCustomerNotFound
	}

	sess, err := session.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create billing portal session: %w", err)
	}

	return &PortalSessionResult{URL: sess.URL}, nil
}

// GetSubscription retrieves a subscription by ID
func (s *StripeService) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if subscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}

	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s.subscriptionToInfo(sub), nil
}

// CancelSubscription cancels a subscription at period end
func (s *StripeService) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if subscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}

	sub, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return s.subscriptionToInfo(sub), nil
}

// ReactivateSubscription removes the cancellation of a subscription
func (s *StripeService) ReactivateSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if subscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}

	sub, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
	}
	return s.subscriptionToInfo(sub), nil
}

// UpdateSubscription moves a subscription to a new price.
func (s *StripeService) UpdateSubscription(ctx context.Context, subscriptionID, newPriceID string) (*SubscriptionInfo, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if subscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}
	if GetPlanByPriceID(newPriceID) == nil {
		return nil, ErrInvalidPriceID
	}

	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(sub.Items.Data) == 0 {
		return nil, errors.New("subscription has no items")
	}

	updated, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return s.subscriptionToInfo(updated), nil
}

// HandleWebhook verifies and parses a Stripe webhook payload.
func (s *StripeService) HandleWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	var event stripe.Event
	var err error

	if s.webhookSecret != "" {
		event, err = webhook.ConstructEvent(payload, signature, s.webhookSecret)
		if err != nil {
			logging.S().Warnw("webhook signature verification failed", "error", err)
			return nil, ErrInvalidWebhook
		}
	} else {
		// Development without a webhook secret configured.
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("failed to parse webhook: %w", err)
		}
	}

	logging.S().Infow("processing stripe webhook", "type", event.Type)

	webhookEvent := &WebhookEvent{Type: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		if sess.Customer != nil {
			webhookEvent.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			webhookEvent.SubscriptionID = sess.Subscription.ID
		}
		webhookEvent.Metadata = sess.Metadata

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse subscription: %w", err)
		}
		webhookEvent.CustomerID = sub.Customer.ID
		webhookEvent.SubscriptionID = sub.ID
		webhookEvent.Status = mapStripeStatus(sub.Status)
		webhookEvent.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0)
		webhookEvent.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0)
		webhookEvent.Metadata = sub.Metadata

		if len(sub.Items.Data) > 0 {
			webhookEvent.PriceID = sub.Items.Data[0].Price.ID
			webhookEvent.PlanType = GetPlanTypeByPriceID(webhookEvent.PriceID)
		}
		if sub.CancelAt > 0 {
			cancelAt := time.Unix(sub.CancelAt, 0)
			webhookEvent.CancelAt = &cancelAt
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse subscription: %w", err)
		}
		webhookEvent.CustomerID = sub.Customer.ID
		webhookEvent.SubscriptionID = sub.ID
		webhookEvent.Status = StatusCanceled
		webhookEvent.Metadata = sub.Metadata

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to parse invoice: %w", err)
		}
		webhookEvent.CustomerID = inv.Customer.ID
		webhookEvent.InvoiceID = inv.ID
		if inv.Subscription != nil {
			webhookEvent.SubscriptionID = inv.Subscription.ID
		}
		webhookEvent.Amount = inv.AmountPaid
		webhookEvent.Currency = string(inv.Currency)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to parse invoice: %w", err)
		}
		webhookEvent.CustomerID = inv.Customer.ID
		webhookEvent.InvoiceID = inv.ID
		if inv.Subscription != nil {
			webhookEvent.SubscriptionID = inv.Subscription.ID
		}
		webhookEvent.Amount = inv.AmountDue
		webhookEvent.Currency = string(inv.Currency)
		webhookEvent.Status = StatusPastDue
	}

	return webhookEvent, nil
}

// GetInvoices retrieves invoices for a customer
func (s *StripeService) GetInvoices(ctx context.Context, customerID string, limit int64) ([]*InvoiceInfo, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if customerID == "" {
		return nil, ErrCustomerNotFound
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(limit)

	var invoices []*InvoiceInfo
	iter := invoice.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		info := &InvoiceInfo{
			ID:               inv.ID,
			CustomerID:       inv.Customer.ID,
			Status:           string(inv.Status),
			AmountDue:        inv.AmountDue,
			AmountPaid:       inv.AmountPaid,
			Currency:         string(inv.Currency),
			Created:          time.Unix(inv.Created, 0),
			HostedInvoiceURL: inv.HostedInvoiceURL,
			InvoicePDF:       inv.InvoicePDF,
		}
		if inv.Subscription != nil {
			info.SubscriptionID = inv.Subscription.ID
		}
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
			paidAt := time.Unix(inv.StatusTransitions.PaidAt, 0)
			info.PaidAt = &paidAt
		}
		invoices = append(invoices, info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	return invoices, nil
}

func (s *StripeService) subscriptionToInfo(sub *stripe.Subscription) *SubscriptionInfo {
	info := &SubscriptionInfo{
		ID:                 sub.ID,
		CustomerID:         sub.Customer.ID,
		Status:             mapStripeStatus(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}

	if len(sub.Items.Data) > 0 {
		info.PriceID = sub.Items.Data[0].Price.ID
		info.PlanType = GetPlanTypeByPriceID(info.PriceID)
	}
	if sub.CancelAt > 0 {
		cancelAt := time.Unix(sub.CancelAt, 0)
		info.CancelAt = &cancelAt
	}
	if sub.CanceledAt > 0 {
		canceledAt := time.Unix(sub.CanceledAt, 0)
		info.CanceledAt = &canceledAt
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0)
		info.TrialEnd = &trialEnd
	}

	return info
}

// mapStripeStatus maps Stripe subscription status to our status type
func mapStripeStatus(status stripe.SubscriptionStatus) SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusCanceled:
		return StatusCanceled
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	default:
		return StatusInactive
	}
}
