package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/threadweave/threadweave/internal/config"
)

// Sender delivers a payload to one recipient over one channel. An empty
// recipient means broadcast to every registered endpoint.
type Sender interface {
	Channel() string
	Send(ctx context.Context, recipient string, payload *Payload) error
}

// WebPushSender delivers payloads to browser push endpoints registered
// in the subscription repository.
type WebPushSender struct {
	vapidEnv *config.VAPIDEnv
	subs     SubscriptionRepository
}

func NewWebPushSender(vapidEnv *config.VAPIDEnv, subs SubscriptionRepository) *WebPushSender {
	return &WebPushSender{
		vapidEnv: vapidEnv,
		subs:     subs,
	}
}

func (s *WebPushSender) Channel() string {
	return "webpush"
}

func (s *WebPushSender) Send(ctx context.Context, recipient string, payload *Payload) error {
	if s.vapidEnv.VAPIDPrivateKey == "" || s.vapidEnv.VAPIDPublicKey == "" {
		return fmt.Errorf("webpush: VAPID keys not configured")
	}

	var (
		subs []*Subscription
		err  error
	)
	if recipient == "" {
		subs, err = s.subs.List(ctx)
	} else {
		subs, err = s.subs.ListForUser(ctx, recipient)
	}
	if err != nil {
		return fmt.Errorf("webpush: failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return fmt.Errorf("webpush: no subscriptions for recipient %q", recipient)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webpush: failed to marshal payload: %w", err)
	}

	var lastErr error
	delivered := 0
	for _, sub := range subs {
		if err := s.sendToSubscription(ctx, sub, data); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("webpush: all endpoints failed: %w", lastErr)
	}
	return nil
}

func (s *WebPushSender) sendToSubscription(ctx context.Context, sub *Subscription, data []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotification(data, wpSub, &webpush.Options{
		VAPIDPublicKey:  s.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: s.vapidEnv.VAPIDPrivateKey,
		Subscriber:      s.vapidEnv.VAPIDContact,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("webpush: send to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		slog.Info("webpush subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.subs.Delete(ctx, sub.ID); err != nil {
			slog.Error("failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return fmt.Errorf("webpush: endpoint gone")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webpush: endpoint %s returned status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
