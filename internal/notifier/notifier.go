// Package notifier posts committed marketplace activity to a webhook.
package notifier

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/event"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/factory"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrBadStatusCode = errors.New("bad status code")

type Service interface {
	Subscribe(manager event.Manager)
	NotifyFromEvent(el interface{})
	Notify(action entity.Action) error
}

type service struct {
	url      string
	fungible string
	client   *retryablehttp.Client
}

func NewClient(retries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	return client
}

func NewService(url, fungible string, client *retryablehttp.Client) Service {
	return service{url, fungible, client}
}

func (s service) Subscribe(manager event.Manager) {
	if s.url == "" {
		zap.L().Info("Notifier: No webhook configured")
		return
	}

	manager.AddListener(event.MarketplaceEvents, s.NotifyFromEvent)
}

func (s service) NotifyFromEvent(el interface{}) {
	log, ok := el.(chain.Log)
	if !ok {
		return
	}

	action, err := factory.CreateAction(log, s.fungible)
	if err != nil {
		zap.L().With(zap.Error(err), zap.String("event", log.Name)).Warn("Notifier: Skipping log")
		return
	}

	if err := s.Notify(action); err != nil {
		zap.L().With(
			zap.Error(err),
			zap.String("contract", action.Contract),
			zap.Uint64("tokenId", action.TokenId),
			zap.String("txId", action.TxID),
		).Error("Notifier: Failed to deliver webhook")
	}
}

func (s service) Notify(action entity.Action) error {
	body, err := json.Marshal(action)
	if err != nil {
		return errors.Wrap(err, "failed to encode action")
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Action-Id", action.Slug())

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.WithMessagef(ErrBadStatusCode, "webhook returned %d", resp.StatusCode)
	}

	zap.L().With(
		zap.String("contract", action.Contract),
		zap.Uint64("tokenId", action.TokenId),
		zap.String("action", string(action.Action)),
	).Debug("Notifier: Webhook delivered")

	return nil
}
