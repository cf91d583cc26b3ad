package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/subscription"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/repository"
)

// StripeAPI is the slice of the Stripe API the billing service calls
// back into. Tests substitute fakes.
type StripeAPI interface {
	// CountActiveSubscriptions returns how many active subscriptions
	// the customer currently has.
	CountActiveSubscriptions(ctx context.Context, customerID string) (int, error)
}

// stripeClient implements StripeAPI against the live Stripe API.
type stripeClient struct{}

func (stripeClient) CountActiveSubscriptions(ctx context.Context, customerID string) (int, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	count := 0
	iter := subscription.List(params)
	for iter.Next() {
		count++
	}
	return count, iter.Err()
}

// BillingService reconciles Stripe webhook events against accounts and
// the credit ledger. Every handler is safe under at-least-once
// delivery: the event id table skips redeliveries wholesale, and
// credit grants are additionally keyed to a unique payment id.
type BillingService struct {
	repos      *repository.Repositories
	billingCfg *config.BillingConfig
	stripeAPI  StripeAPI
	logger     *slog.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(repos *repository.Repositories, billingCfg *config.BillingConfig, stripeAPI StripeAPI, logger *slog.Logger) *BillingService {
	if stripeAPI == nil {
		stripeAPI = stripeClient{}
	}
	return &BillingService{
		repos:      repos,
		billingCfg: billingCfg,
		stripeAPI:  stripeAPI,
		logger:     logger,
	}
}

// ProcessEvent applies one verified Stripe event. Redelivered events
// are acknowledged without side effects.
func (s *BillingService) ProcessEvent(ctx context.Context, event stripe.Event) error {
	fresh, err := s.repos.WebhookEvent.MarkProcessed(ctx, event.ID, string(event.Type))
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !fresh {
		s.logger.Info("skipping redelivered webhook event", "event_id", event.ID, "type", event.Type)
		return nil
	}

	if err := s.handle(ctx, event); err != nil {
		// Re-open the event id so a redelivery retries; the payment-id
		// guard keeps any partially applied grant from doubling
		if delErr := s.repos.WebhookEvent.Delete(ctx, event.ID); delErr != nil {
			s.logger.Error("failed to re-open webhook event", "event_id", event.ID, "error", delErr)
		}
		return err
	}
	return nil
}

func (s *BillingService) handle(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.created", "customer.updated":
		return s.handleCustomer(ctx, event)
	case "customer.subscription.created":
		return s.handleSubscriptionCreated(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return s.handleInvoiceFailed(ctx, event)
	default:
		s.logger.Debug("ignoring webhook event", "type", event.Type)
		return nil
	}
}

// handleCheckoutCompleted links the customer and grants the purchased
// plan's credits. Checkout sessions carry the price id in metadata.
func (s *BillingService) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userID := session.ClientReferenceID
	if userID == "" {
		s.logger.Warn("checkout session without client reference", "event_id", event.ID)
		return nil
	}

	email := ""
	if session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if err := s.repos.Account.EnsureExists(ctx, userID, email); err != nil {
		return err
	}
	if session.Customer != nil {
		if err := s.repos.Account.LinkStripeCustomer(ctx, userID, session.Customer.ID); err != nil {
			return err
		}
	}

	priceID := session.Metadata["price_id"]
	plan, known := s.billingCfg.GetPlan(priceID)
	if !known {
		s.logger.Warn("checkout for unknown price", "event_id", event.ID, "price_id", priceID)
		return nil
	}

	// Key the grant to the payment intent (one-time) or subscription
	// (recurring); the subscription grant also covers the first period
	paymentID := ""
	if session.PaymentIntent != nil {
		paymentID = session.PaymentIntent.ID
	} else if session.Subscription != nil {
		paymentID = session.Subscription.ID + "-checkout"
	} else {
		paymentID = session.ID
	}

	txType := models.TransactionTypePurchase
	if session.Subscription != nil {
		txType = models.TransactionTypeSubscription
	}
	if err := s.grantCredits(ctx, userID, plan.Credits, paymentID, txType, "checkout: "+plan.Name); err != nil {
		return err
	}

	if err := s.repos.Account.UpdateSubscription(ctx, userID, "active", plan.Name); err != nil {
		return err
	}
	if plan.Trial {
		endsAt := time.Now().AddDate(0, 0, plan.TrialDays)
		if err := s.repos.Account.SetTrialEnds(ctx, userID, endsAt); err != nil {
			return err
		}
	}

	s.logger.Info("checkout completed", "user_id", userID, "plan", plan.Name, "credits", plan.Credits)
	return nil
}

// handleCustomer links a Stripe customer to the account sharing its
// email. An existing link is never overwritten.
func (s *BillingService) handleCustomer(ctx context.Context, event stripe.Event) error {
	var customer stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &customer); err != nil {
		return fmt.Errorf("failed to parse customer: %w", err)
	}
	if customer.Email == "" {
		return nil
	}

	account, err := s.repos.Account.GetByEmail(ctx, customer.Email)
	if err != nil {
		return err
	}
	if account == nil || account.StripeCustomerID != "" {
		return nil
	}
	return s.repos.Account.LinkStripeCustomer(ctx, account.UserID, customer.ID)
}

// handleSubscriptionCreated records status and plan but grants nothing;
// the checkout event already granted the first period.
func (s *BillingService) handleSubscriptionCreated(ctx context.Context, event stripe.Event) error {
	sub, account, err := s.resolveSubscription(ctx, event)
	if err != nil || account == nil {
		return err
	}

	plan, _ := s.planForSubscription(sub)
	return s.repos.Account.UpdateSubscription(ctx, account.UserID, string(sub.Status), plan.Name)
}

// handleSubscriptionUpdated updates status and plan and, when the
// subscription is active, grants the plan's credits for the current
// period. The grant is keyed to the period so a replay or a second
// update within the same period cannot grant twice.
func (s *BillingService) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	sub, account, err := s.resolveSubscription(ctx, event)
	if err != nil || account == nil {
		return err
	}

	plan, known := s.planForSubscription(sub)
	if err := s.repos.Account.UpdateSubscription(ctx, account.UserID, string(sub.Status), plan.Name); err != nil {
		return err
	}

	if sub.Status != stripe.SubscriptionStatusActive || !known {
		return nil
	}

	paymentID := fmt.Sprintf("%s-%d", sub.ID, sub.CurrentPeriodStart)
	err = s.grantCredits(ctx, account.UserID, plan.Credits, paymentID,
		models.TransactionTypeSubscription, "subscription period: "+plan.Name)
	if err == ErrDuplicatePayment {
		// This period was already credited (by checkout or an earlier update)
		return nil
	}
	return err
}

// handleSubscriptionDeleted cancels the account's subscription only if
// the customer has no other active subscription. A plan switch cancels
// the old subscription while the new one is already active; that must
// not mark the account canceled.
func (s *BillingService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	sub, account, err := s.resolveSubscription(ctx, event)
	if err != nil || account == nil {
		return err
	}

	active, err := s.stripeAPI.CountActiveSubscriptions(ctx, sub.Customer.ID)
	if err != nil {
		return fmt.Errorf("failed to count active subscriptions: %w", err)
	}
	if active > 0 {
		s.logger.Info("subscription deleted but another remains active",
			"user_id", account.UserID, "active_count", active)
		return nil
	}

	return s.repos.Account.UpdateSubscription(ctx, account.UserID, "canceled", "")
}

// handleInvoicePaid grants the renewal credits, keyed to the invoice id.
func (s *BillingService) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if invoice.Customer == nil {
		return nil
	}

	account, err := s.repos.Account.GetByStripeCustomerID(ctx, invoice.Customer.ID)
	if err != nil || account == nil {
		return err
	}

	// Subscription-cycle invoices only; the initial invoice is covered
	// by the checkout grant
	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return nil
	}

	var plan config.Plan
	known := false
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line.Price == nil {
				continue
			}
			if p, ok := s.billingCfg.GetPlan(line.Price.ID); ok {
				plan, known = p, true
				break
			}
		}
	}
	if !known {
		s.logger.Warn("invoice for unknown price", "event_id", event.ID)
		return nil
	}

	err = s.grantCredits(ctx, account.UserID, plan.Credits, invoice.ID,
		models.TransactionTypeSubscription, "renewal: "+plan.Name)
	if err == ErrDuplicatePayment {
		return nil
	}
	if err != nil {
		return err
	}
	return s.repos.Account.UpdateSubscription(ctx, account.UserID, "active", plan.Name)
}

// handleInvoiceFailed updates status only; no credit mutation.
func (s *BillingService) handleInvoiceFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if invoice.Customer == nil {
		return nil
	}

	account, err := s.repos.Account.GetByStripeCustomerID(ctx, invoice.Customer.ID)
	if err != nil || account == nil {
		return err
	}
	return s.repos.Account.UpdateSubscription(ctx, account.UserID, "past_due", account.SubscriptionPlan)
}

// grantCredits applies a grant through the ledger. The ledger entry
// and the balance increment commit in one transaction, keyed by the
// UNIQUE payment id.
func (s *BillingService) grantCredits(ctx context.Context, userID string, amount int64, paymentID, txType, description string) error {
	entry := &models.CreditTransaction{
		ID:              ulid.Make().String(),
		UserID:          userID,
		Type:            txType,
		Amount:          amount,
		StripePaymentID: &paymentID,
		Description:     description,
		CreatedAt:       time.Now(),
	}
	if err := s.repos.CreditTransaction.Grant(ctx, entry); err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	s.logger.Info("credits granted", "user_id", userID, "amount", amount, "payment_id", paymentID)
	return nil
}

func (s *BillingService) resolveSubscription(ctx context.Context, event stripe.Event) (*stripe.Subscription, *models.Account, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, nil, fmt.Errorf("failed to parse subscription: %w", err)
	}
	if sub.Customer == nil {
		return &sub, nil, nil
	}

	account, err := s.repos.Account.GetByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return &sub, nil, err
	}
	if account == nil {
		s.logger.Warn("subscription event for unlinked customer",
			"event_id", event.ID, "customer_id", sub.Customer.ID)
	}
	return &sub, account, nil
}

func (s *BillingService) planForSubscription(sub *stripe.Subscription) (config.Plan, bool) {
	if sub.Items == nil {
		return config.Plan{}, false
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		if plan, ok := s.billingCfg.GetPlan(item.Price.ID); ok {
			return plan, true
		}
	}
	return config.Plan{}, false
}
