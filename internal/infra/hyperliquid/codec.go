package hyperliquid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/stream"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"
)

type wsSubscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
	User string `json:"user,omitempty"`
}

type wsRequest struct {
	Method       string          `json:"method"`
	Subscription *wsSubscription `json:"subscription,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsSubscriptionResponse struct {
	Method       string         `json:"method"`
	Subscription wsSubscription `json:"subscription"`
}

const alreadySubscribed = "Already subscribed"

var (
	pingFrame = []byte(`{"method":"ping"}`)
	pongTag   = []byte(`"channel":"pong"`)
)

// Codec speaks the venue's WebSocket protocol for stream.Mux.
// User is the account address for order and fill streams; empty disables them.
type Codec struct {
	user string
}

var _ stream.Codec = (*Codec)(nil)

func NewCodec(user string) *Codec {
	return &Codec{user: strings.ToLower(user)}
}

func (c *Codec) UpstreamKey(kind domain.StreamKind, coin string) (stream.Key, error) {
	const op = "subscribe"
	switch {
	case kind.RequiresAuth():
		if c.user == "" {
			return stream.Key{}, dexerr.Newf(dexerr.KindUnsupported, op, "%s stream needs an account address", kind)
		}
		return stream.Key{Kind: kind}, nil
	case coin == "":
		return stream.Key{}, dexerr.Newf(dexerr.KindInvalid, op, "%s stream needs a coin", kind)
	}
	return stream.Key{Kind: kind, Coin: coin}, nil
}

func (c *Codec) SubscribeFrame(k stream.Key) ([]byte, error) {
	return c.request("subscribe", k)
}

func (c *Codec) UnsubscribeFrame(k stream.Key) ([]byte, error) {
	return c.request("unsubscribe", k)
}

func (c *Codec) PingFrame() []byte { return pingFrame }

func (c *Codec) IsPong(msg []byte) bool { return bytes.Contains(msg, pongTag) }

func (c *Codec) request(method string, k stream.Key) ([]byte, error) {
	sub, err := c.subscription(k)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsRequest{Method: method, Subscription: &sub})
}

func (c *Codec) subscription(k stream.Key) (wsSubscription, error) {
	switch k.Kind {
	case domain.StreamTrades:
		return wsSubscription{Type: "trades", Coin: k.Coin}, nil
	case domain.StreamBbo:
		return wsSubscription{Type: "bbo", Coin: k.Coin}, nil
	case domain.StreamL2Book:
		return wsSubscription{Type: "l2Book", Coin: k.Coin}, nil
	case domain.StreamOrders:
		return wsSubscription{Type: "orderUpdates", User: c.user}, nil
	case domain.StreamFills:
		return wsSubscription{Type: "userFills", User: c.user}, nil
	}
	return wsSubscription{}, dexerr.Newf(dexerr.KindInvalid, "subscribe", "unknown stream kind %d", k.Kind)
}

// keyOf maps a venue subscription back onto its ledger key.
func keyOf(s wsSubscription) (stream.Key, bool) {
	switch s.Type {
	case "trades":
		return stream.Key{Kind: domain.StreamTrades, Coin: s.Coin}, true
	case "bbo":
		return stream.Key{Kind: domain.StreamBbo, Coin: s.Coin}, true
	case "l2Book":
		return stream.Key{Kind: domain.StreamL2Book, Coin: s.Coin}, true
	case "orderUpdates":
		return stream.Key{Kind: domain.StreamOrders}, true
	case "userFills":
		return stream.Key{Kind: domain.StreamFills}, true
	}
	return stream.Key{}, false
}

// Decode classifies one inbound frame and converts channel data to events.
func (c *Codec) Decode(msg []byte) (stream.Frame, error) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return stream.Frame{}, fmt.Errorf("envelope: %w", err)
	}

	switch env.Channel {
	case "pong":
		return stream.Frame{Type: stream.FramePong}, nil
	case "subscriptionResponse":
		return decodeAck(env.Data)
	case "error":
		return decodeVenueError(env.Data), nil
	case "bbo":
		return decodeBbo(env.Data)
	case "trades":
		return decodeTrades(env.Data)
	case "l2Book":
		return decodeBook(env.Data)
	case "orderUpdates":
		return decodeOrderUpdates(env.Data)
	case "userFills":
		return decodeUserFills(env.Data)
	}
	return stream.Frame{Type: stream.FrameIgnore}, nil
}

func decodeAck(data json.RawMessage) (stream.Frame, error) {
	var r wsSubscriptionResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return stream.Frame{}, fmt.Errorf("subscription response: %w", err)
	}
	k, ok := keyOf(r.Subscription)
	if !ok || r.Method != "subscribe" {
		return stream.Frame{Type: stream.FrameIgnore}, nil
	}
	return stream.Frame{Type: stream.FrameAck, Key: k}, nil
}

// decodeVenueError handles {"channel":"error","data":"<text> {json}"}.
// A duplicate subscribe is reported as an error but means the upstream is live.
func decodeVenueError(data json.RawMessage) stream.Frame {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		text = string(data)
	}
	var k stream.Key
	if i := strings.IndexByte(text, '{'); i >= 0 {
		var sub wsSubscription
		var req wsRequest
		if json.Unmarshal([]byte(text[i:]), &req) == nil && req.Subscription != nil {
			sub = *req.Subscription
		} else {
			_ = json.Unmarshal([]byte(text[i:]), &sub)
		}
		k, _ = keyOf(sub)
	}
	if strings.HasPrefix(text, alreadySubscribed) && k.Kind.Valid() {
		return stream.Frame{Type: stream.FrameAck, Key: k}
	}
	return stream.Frame{Type: stream.FrameError, Key: k, Err: dexerr.New(dexerr.KindRejected, "subscribe", text)}
}

// coinOf recovers the coin of a payload that failed to decode so the error
// can be routed to the right subscribers.
func coinOf(data json.RawMessage) string {
	var v struct {
		Coin string `json:"coin"`
	}
	_ = json.Unmarshal(data, &v)
	return v.Coin
}

func decodeBbo(data json.RawMessage) (stream.Frame, error) {
	var b wireBbo
	if err := json.Unmarshal(data, &b); err != nil {
		return stream.Frame{Key: stream.Key{Kind: domain.StreamBbo, Coin: coinOf(data)}}, fmt.Errorf("bbo: %w", err)
	}
	k := stream.Key{Kind: domain.StreamBbo, Coin: b.Coin}
	ev := event.BboEvent{
		BaseEvent: event.BaseEvent{Kind: domain.StreamBbo, Coin: b.Coin, Ts: quant.TimeStamp(b.Time)},
		Bbo:       b.toDomain(),
	}
	return stream.Frame{Type: stream.FrameData, Key: k, Events: []event.Event{ev}}, nil
}

func decodeTrades(data json.RawMessage) (stream.Frame, error) {
	var trades []wireTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		var probe []json.RawMessage
		k := stream.Key{Kind: domain.StreamTrades}
		if json.Unmarshal(data, &probe) == nil && len(probe) > 0 {
			k.Coin = coinOf(probe[0])
		}
		return stream.Frame{Key: k}, fmt.Errorf("trades: %w", err)
	}
	if len(trades) == 0 {
		return stream.Frame{Type: stream.FrameIgnore}, nil
	}
	coin := trades[0].Coin
	evs := make([]event.Event, 0, len(trades))
	for _, t := range trades {
		evs = append(evs, event.TradeEvent{
			BaseEvent: event.BaseEvent{Kind: domain.StreamTrades, Coin: t.Coin, Ts: quant.TimeStamp(t.Time)},
			Trade:     t.toDomain(),
		})
	}
	return stream.Frame{Type: stream.FrameData, Key: stream.Key{Kind: domain.StreamTrades, Coin: coin}, Events: evs}, nil
}

// decodeBook: every l2Book frame is a full snapshot of the top levels.
func decodeBook(data json.RawMessage) (stream.Frame, error) {
	var b wireBook
	if err := json.Unmarshal(data, &b); err != nil {
		return stream.Frame{Key: stream.Key{Kind: domain.StreamL2Book, Coin: coinOf(data)}}, fmt.Errorf("l2Book: %w", err)
	}
	ev := event.BookEvent{
		BaseEvent: event.BaseEvent{Kind: domain.StreamL2Book, Coin: b.Coin, Ts: quant.TimeStamp(b.Time)},
		Book:      b.toDomain(),
		Snapshot:  true,
	}
	return stream.Frame{Type: stream.FrameData, Key: stream.Key{Kind: domain.StreamL2Book, Coin: b.Coin}, Events: []event.Event{ev}}, nil
}

func decodeOrderUpdates(data json.RawMessage) (stream.Frame, error) {
	k := stream.Key{Kind: domain.StreamOrders}
	var ups []wireOrderUpdate
	if err := json.Unmarshal(data, &ups); err != nil {
		return stream.Frame{Key: k}, fmt.Errorf("orderUpdates: %w", err)
	}
	evs := make([]event.Event, 0, len(ups))
	for _, u := range ups {
		evs = append(evs, event.OrderEvent{
			BaseEvent: event.BaseEvent{Kind: domain.StreamOrders, Coin: u.Order.Coin, Ts: quant.TimeStamp(u.StatusTimestamp)},
			Update:    u.toDomain(),
		})
	}
	return stream.Frame{Type: stream.FrameData, Key: k, Events: evs}, nil
}

func decodeUserFills(data json.RawMessage) (stream.Frame, error) {
	k := stream.Key{Kind: domain.StreamFills}
	var uf wireUserFills
	if err := json.Unmarshal(data, &uf); err != nil {
		return stream.Frame{Key: k}, fmt.Errorf("userFills: %w", err)
	}
	evs := make([]event.Event, 0, len(uf.Fills))
	for _, f := range uf.Fills {
		evs = append(evs, event.FillEvent{
			BaseEvent: event.BaseEvent{Kind: domain.StreamFills, Coin: f.Coin, Ts: quant.TimeStamp(f.Time)},
			Fill:      f.toDomain(),
			Snapshot:  uf.IsSnapshot,
		})
	}
	return stream.Frame{Type: stream.FrameData, Key: k, Events: evs}, nil
}
