// Package notifier publishes a nostr note whenever a paid generation is
// unlocked.
package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/fulmine-labs/sparks/internal/payment"
)

var defaultRelays = []string{"wss://nostr.mutinywallet.com"}

const publishTimeout = 10 * time.Second

func New(nsec string, relays []string) (*Notifier, error) {
	prefix, sk, err := nip19.Decode(nsec)
	if err != nil {
		return nil, fmt.Errorf("nip19 decode: %w", err)
	}
	if prefix != "nsec" {
		return nil, fmt.Errorf("nip19 decode: expected nsec, got %v", prefix)
	}
	privateKey := sk.(string)

	pubkey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("get pubkey: %w", err)
	}

	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("encode pubkey: %w", err)
	}

	if len(relays) == 0 {
		relays = defaultRelays
	}

	return &Notifier{
		relayURLs:  relays,
		npub:       npub,
		pubkey:     pubkey,
		privateKey: privateKey,
	}, nil
}

type Notifier struct {
	relayURLs                []string
	npub, pubkey, privateKey string
}

func (n *Notifier) Npub() string {
	return n.npub
}

// Settled publishes a note for invoice in the background. It matches the
// payment.PaymentService OnSettle hook.
func (n *Notifier) Settled(ctx context.Context, invoice payment.Invoice) {
	content := settledContent(invoice)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		n.Send(ctx, content)
	}()
}

func (n *Notifier) Send(ctx context.Context, content string) {
	event, err := n.newEvent(content)
	if err != nil {
		log.Printf("notifier: %v", err)
		return
	}
	n.connectAndSend(ctx, event)
}

func settledContent(invoice payment.Invoice) string {
	model := invoice.Model
	if model == "" {
		model = "image"
	}
	return fmt.Sprintf("⚡ %d sats paid for %d %s generation(s)", invoice.AmountSats, max(invoice.NumOutputs, 1), model)
}

func (n *Notifier) newEvent(content string) (nostr.Event, error) {
	event := nostr.Event{
		PubKey:    n.pubkey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nil,
		Content:   content,
	}
	if err := event.Sign(n.privateKey); err != nil {
		return event, fmt.Errorf("sign: %w", err)
	}

	return event, nil
}

func (n *Notifier) connectAndSend(ctx context.Context, event nostr.Event) {
	for _, url := range n.relayURLs {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			log.Printf("notifier: connect %v: %v", url, err)
			continue
		}

		_, err = relay.Publish(ctx, event)
		relay.Close()
		if err != nil {
			log.Printf("notifier: publish %v: %v", url, err)
			continue
		}
	}
}
