package hyperliquid

import (
	"errors"
	"testing"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/stream"
	"perp_go/pkg/dexerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_UpstreamKey(t *testing.T) {
	anon := NewCodec("")
	_, err := anon.UpstreamKey(domain.StreamOrders, "")
	assert.True(t, errors.Is(err, dexerr.ErrUnsupported))
	_, err = anon.UpstreamKey(domain.StreamBbo, "")
	assert.True(t, errors.Is(err, dexerr.ErrInvalid))

	k, err := anon.UpstreamKey(domain.StreamBbo, "BTC")
	require.NoError(t, err)
	assert.Equal(t, stream.Key{Kind: domain.StreamBbo, Coin: "BTC"}, k)

	user := NewCodec(testAddress)
	k, err = user.UpstreamKey(domain.StreamFills, "ETH")
	require.NoError(t, err)
	assert.Equal(t, stream.Key{Kind: domain.StreamFills}, k, "account streams share one upstream")
}

func TestCodec_Frames(t *testing.T) {
	c := NewCodec("0xABCDEF0000000000000000000000000000000001")
	tests := []struct {
		key   stream.Key
		sub   string
		unsub string
	}{
		{
			stream.Key{Kind: domain.StreamBbo, Coin: "BTC"},
			`{"method":"subscribe","subscription":{"type":"bbo","coin":"BTC"}}`,
			`{"method":"unsubscribe","subscription":{"type":"bbo","coin":"BTC"}}`,
		},
		{
			stream.Key{Kind: domain.StreamTrades, Coin: "ETH"},
			`{"method":"subscribe","subscription":{"type":"trades","coin":"ETH"}}`,
			`{"method":"unsubscribe","subscription":{"type":"trades","coin":"ETH"}}`,
		},
		{
			stream.Key{Kind: domain.StreamL2Book, Coin: "SOL"},
			`{"method":"subscribe","subscription":{"type":"l2Book","coin":"SOL"}}`,
			`{"method":"unsubscribe","subscription":{"type":"l2Book","coin":"SOL"}}`,
		},
		{
			stream.Key{Kind: domain.StreamOrders},
			`{"method":"subscribe","subscription":{"type":"orderUpdates","user":"0xabcdef0000000000000000000000000000000001"}}`,
			`{"method":"unsubscribe","subscription":{"type":"orderUpdates","user":"0xabcdef0000000000000000000000000000000001"}}`,
		},
		{
			stream.Key{Kind: domain.StreamFills},
			`{"method":"subscribe","subscription":{"type":"userFills","user":"0xabcdef0000000000000000000000000000000001"}}`,
			`{"method":"unsubscribe","subscription":{"type":"userFills","user":"0xabcdef0000000000000000000000000000000001"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			sub, err := c.SubscribeFrame(tt.key)
			require.NoError(t, err)
			assert.JSONEq(t, tt.sub, string(sub))
			unsub, err := c.UnsubscribeFrame(tt.key)
			require.NoError(t, err)
			assert.JSONEq(t, tt.unsub, string(unsub))

			// the venue echoes the subscription back in its ack
			fr, err := c.Decode([]byte(`{"channel":"subscriptionResponse","data":` + string(sub) + `}`))
			require.NoError(t, err)
			assert.Equal(t, stream.FrameAck, fr.Type)
			assert.Equal(t, tt.key, fr.Key)

			fr, err = c.Decode([]byte(`{"channel":"subscriptionResponse","data":` + string(unsub) + `}`))
			require.NoError(t, err)
			assert.Equal(t, stream.FrameIgnore, fr.Type)
		})
	}

	assert.JSONEq(t, `{"method":"ping"}`, string(c.PingFrame()))
	assert.True(t, c.IsPong([]byte(`{"channel":"pong"}`)))
	assert.False(t, c.IsPong([]byte(`{"channel":"bbo","data":{}}`)))
}

func TestCodec_DecodeBbo(t *testing.T) {
	c := NewCodec("")
	fr, err := c.Decode([]byte(`{"channel":"bbo","data":{"coin":"BTC","time":1700000000123,
		"bbo":[{"px":"50000.5","sz":"1.2","n":3},null]}}`))
	require.NoError(t, err)
	assert.Equal(t, stream.FrameData, fr.Type)
	assert.Equal(t, stream.Key{Kind: domain.StreamBbo, Coin: "BTC"}, fr.Key)
	require.Len(t, fr.Events, 1)

	ev := fr.Events[0].(event.BboEvent)
	assert.EqualValues(t, 1700000000123, ev.Ts)
	require.NotNil(t, ev.Bbo.Bid)
	assert.Equal(t, "50000.5", ev.Bbo.Bid.Price.String())
	assert.Equal(t, "1.2", ev.Bbo.Bid.Size.String())
	assert.Equal(t, 3, ev.Bbo.Bid.Orders)
	assert.Nil(t, ev.Bbo.Ask)
}

func TestCodec_DecodeTradesAndBook(t *testing.T) {
	c := NewCodec("")
	fr, err := c.Decode([]byte(`{"channel":"trades","data":[
		{"coin":"ETH","side":"B","px":"3000","sz":"0.5","time":1,"hash":"0x01","tid":11},
		{"coin":"ETH","side":"A","px":"2999.9","sz":"1","time":2,"hash":"0x02","tid":12}]}`))
	require.NoError(t, err)
	assert.Equal(t, stream.Key{Kind: domain.StreamTrades, Coin: "ETH"}, fr.Key)
	require.Len(t, fr.Events, 2)
	first := fr.Events[0].(event.TradeEvent).Trade
	second := fr.Events[1].(event.TradeEvent).Trade
	assert.Equal(t, domain.SideBuy, first.Side)
	assert.Equal(t, domain.SideSell, second.Side)
	assert.EqualValues(t, 12, second.ID)

	fr, err = c.Decode([]byte(`{"channel":"trades","data":[]}`))
	require.NoError(t, err)
	assert.Equal(t, stream.FrameIgnore, fr.Type)

	fr, err = c.Decode([]byte(`{"channel":"l2Book","data":{"coin":"SOL","time":5,"levels":[
		[{"px":"100","sz":"2","n":1},{"px":"99","sz":"3","n":2}],
		[{"px":"101","sz":"1","n":1}]]}}`))
	require.NoError(t, err)
	book := fr.Events[0].(event.BookEvent)
	assert.True(t, book.Snapshot)
	assert.Len(t, book.Book.Bids, 2)
	assert.Len(t, book.Book.Asks, 1)
	assert.Equal(t, "99", book.Book.Bids[1].Price.String())
}

func TestCodec_DecodeAccount(t *testing.T) {
	c := NewCodec(testAddress)
	fr, err := c.Decode([]byte(`{"channel":"orderUpdates","data":[
		{"order":{"coin":"BTC","side":"B","limitPx":"50000","sz":"0.1","oid":77,"timestamp":10,"origSz":"0.1","cloid":"0x00000000000000000000000000000001"},"status":"open","statusTimestamp":11},
		{"order":{"coin":"BTC","side":"B","limitPx":"50000","sz":"0","oid":77,"timestamp":10,"origSz":"0.1"},"status":"filled","statusTimestamp":12},
		{"order":{"coin":"ETH","side":"A","limitPx":"3000","sz":"1","oid":78,"timestamp":10,"origSz":"1"},"status":"marginCanceled","statusTimestamp":13},
		{"order":{"coin":"ETH","side":"A","limitPx":"3000","sz":"1","oid":79,"timestamp":10,"origSz":"1"},"status":"rejected","statusTimestamp":14}]}`))
	require.NoError(t, err)
	assert.Equal(t, stream.Key{Kind: domain.StreamOrders}, fr.Key)
	require.Len(t, fr.Events, 4)

	want := []domain.OrderState{domain.OrderAcknowledged, domain.OrderFilled, domain.OrderCancelled, domain.OrderRejected}
	for i, ev := range fr.Events {
		assert.Equal(t, want[i], ev.(event.OrderEvent).Update.State, "update %d", i)
	}
	first := fr.Events[0].(event.OrderEvent)
	assert.Equal(t, "BTC", first.Coin)
	assert.Equal(t, domain.ClientOrderID("0x00000000000000000000000000000001"), first.Update.Order.ClientOrderID)
	assert.EqualValues(t, 77, first.Update.Order.OrderID)

	fr, err = c.Decode([]byte(`{"channel":"userFills","data":{"isSnapshot":true,"user":"` + testAddress + `","fills":[
		{"coin":"BTC","px":"50000","sz":"0.1","side":"B","time":20,"startPosition":"0","dir":"Open Long",
		 "closedPnl":"0","hash":"0xabc","oid":77,"crossed":true,"fee":"0.5","tid":900,"feeToken":"USDC"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, stream.Key{Kind: domain.StreamFills}, fr.Key)
	fill := fr.Events[0].(event.FillEvent)
	assert.True(t, fill.Snapshot)
	assert.EqualValues(t, 77, fill.Fill.OrderID)
	assert.Equal(t, "0.5", fill.Fill.Fee.String())
	assert.Equal(t, "Open Long", fill.Fill.Dir)
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := NewCodec("")

	fr, err := c.Decode([]byte(`{"channel":"error","data":"Already subscribed: {\"type\":\"bbo\",\"coin\":\"BTC\"}"}`))
	require.NoError(t, err)
	assert.Equal(t, stream.FrameAck, fr.Type)
	assert.Equal(t, stream.Key{Kind: domain.StreamBbo, Coin: "BTC"}, fr.Key)

	fr, err = c.Decode([]byte(`{"channel":"error","data":"Invalid subscription {\"method\":\"subscribe\",\"subscription\":{\"type\":\"l2Book\",\"coin\":\"NOPE\"}}"}`))
	require.NoError(t, err)
	assert.Equal(t, stream.FrameError, fr.Type)
	assert.Equal(t, stream.Key{Kind: domain.StreamL2Book, Coin: "NOPE"}, fr.Key)
	assert.True(t, errors.Is(fr.Err, dexerr.ErrRejected))

	// a broken payload still names its subscription so only those subscribers hear about it
	fr, err = c.Decode([]byte(`{"channel":"bbo","data":{"coin":"ETH","time":"soon","bbo":[]}}`))
	require.Error(t, err)
	assert.Equal(t, stream.Key{Kind: domain.StreamBbo, Coin: "ETH"}, fr.Key)

	_, err = c.Decode([]byte(`not json`))
	require.Error(t, err)

	fr, err = c.Decode([]byte(`{"channel":"notification","data":{"notification":"hello"}}`))
	require.NoError(t, err)
	assert.Equal(t, stream.FrameIgnore, fr.Type)

	fr, err = c.Decode([]byte(`{"channel":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, stream.FramePong, fr.Type)
}

func TestOrderState(t *testing.T) {
	tests := []struct {
		status string
		want   domain.OrderState
	}{
		{"open", domain.OrderAcknowledged},
		{"triggered", domain.OrderAcknowledged},
		{"filled", domain.OrderFilled},
		{"canceled", domain.OrderCancelled},
		{"marginCanceled", domain.OrderCancelled},
		{"reduceOnlyCanceled", domain.OrderCancelled},
		{"scheduledCancel", domain.OrderCancelled},
		{"rejected", domain.OrderRejected},
		{"perpMarginRejected", domain.OrderRejected},
		{"somethingNew", domain.OrderAcknowledged},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, orderState(tt.status))
			assert.Equal(t, tt.want.IsTerminal(), tt.want != domain.OrderAcknowledged)
		})
	}
}
