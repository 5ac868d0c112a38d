package checkout

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	pubnub "github.com/pubnub/go/v7"
)

// SettlementEvent is a gateway-side settlement outcome pushed for an order.
type SettlementEvent struct {
	OrderID int    `json:"order_id"`
	Status  string `json:"status"`
}

// Settled reports whether the gateway confirmed the charge.
func (e SettlementEvent) Settled() bool { return e.Status == "success" }

// Notifier delivers settlement pushes to interested sessions. Polling stays
// the safety net; a notifier only lets a session settle earlier.
type Notifier interface {
	Events() <-chan SettlementEvent
}

// PubNubNotifier subscribes to the payment gateway's PubNub channel and
// forwards settlement messages it can decode. Undecodable messages are
// logged and dropped.
type PubNubNotifier struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	events   chan SettlementEvent
}

type PubNubConfig struct {
	SubscribeKey string
	UserID       string
	Channel      string
}

func NewPubNubNotifier(ctx context.Context, cfg PubNubConfig) *PubNubNotifier {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.SubscribeKey = cfg.SubscribeKey

	n := &PubNubNotifier{
		pn:       pubnub.NewPubNub(pnCfg),
		listener: pubnub.NewListener(),
		events:   make(chan SettlementEvent, 16),
	}

	n.pn.AddListener(n.listener)
	go n.run(ctx)
	n.pn.Subscribe().Channels([]string{cfg.Channel}).Execute()

	return n
}

func (n *PubNubNotifier) Events() <-chan SettlementEvent { return n.events }

func (n *PubNubNotifier) run(ctx context.Context) {
	for {
		select {
		case st := <-n.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("connected to pubnub")
			case pubnub.PNReconnectedCategory:
				log.Println("reconnected to pubnub")
			case pubnub.PNDisconnectedCategory:
				log.Println("disconnected from pubnub")
			case pubnub.PNTimeoutCategory:
				log.Println("timeout connect to pubnub")
			default:
				log.Println("pubnub status:", st.Category)
			}

		case message := <-n.listener.Message:
			raw, ok := message.Message.(string)
			if !ok {
				log.Println("pubnub: non-string settlement message dropped")
				continue
			}

			var ev SettlementEvent
			dec := json.NewDecoder(strings.NewReader(raw))
			if err := dec.Decode(&ev); err != nil {
				log.Println("pubnub: decode settlement message:", err)
				continue
			}
			if ev.OrderID == 0 {
				continue
			}

			select {
			case n.events <- ev:
			default:
				// Drop rather than stall the listener; the poll loop will
				// still observe the settled order.
				log.Printf("pubnub: settlement event for order %d dropped, channel full", ev.OrderID)
			}

		case <-ctx.Done():
			n.pn.UnsubscribeAll()
			log.Println("close settlement subscription")
			return
		}
	}
}
