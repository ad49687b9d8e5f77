package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"perp_go/internal/domain"
	"perp_go/internal/execution"
	"perp_go/internal/infra"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"
)

type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type exchangeData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

// actionStatus is one entry of response.data.statuses. The venue sends either
// a bare string ("success", "waitingForFill") or an object with one key.
type actionStatus struct {
	Text    string `json:"-"`
	Resting *struct {
		Oid uint64 `json:"oid"`
	} `json:"resting"`
	Filled *struct {
		Oid     uint64      `json:"oid"`
		TotalSz quant.Qty   `json:"totalSz"`
		AvgPx   quant.Price `json:"avgPx"`
	} `json:"filled"`
	Error *string `json:"error"`
}

func parseStatus(raw json.RawMessage) (actionStatus, error) {
	var st actionStatus
	if b := bytes.TrimSpace(raw); len(b) > 0 && b[0] == '"' {
		err := json.Unmarshal(b, &st.Text)
		return st, err
	}
	err := json.Unmarshal(raw, &st)
	return st, err
}

// cancel errors the venue uses for orders that no longer rest
var goneMarkers = []string{"never placed", "already canceled", "already cancelled", "filled"}

func isGone(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range goneMarkers {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

func (c *Client) checkTrading(op string) error {
	if c.isClosed() {
		return dexerr.New(dexerr.KindClosed, op, "client is closed")
	}
	if c.signer == nil {
		return dexerr.New(dexerr.KindUnsupported, op, "no private key configured")
	}
	return nil
}

// PlaceOrder signs and submits a limit order and returns its client order id,
// generating one when req has none. The order is tracked before it is sent so
// a stream acknowledgement can never arrive for an unknown id.
//
// On Network or Timeout errors the id is still returned: the venue may have
// accepted the order and the orders stream settles its state. Failures before
// the request is sent (signing, cancelled context, rate limit, open breaker)
// return no id and leave nothing tracked.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.ClientOrderID, error) {
	const op = "place order"
	if err := c.checkTrading(op); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", dexerr.Wrap(dexerr.KindInvalid, op, err)
	}
	a, err := c.asset(ctx, req.Coin)
	if err != nil {
		return "", err
	}
	if q := req.Qty.Decimal(); !q.Round(int32(a.SzDecimals)).Equal(q) {
		return "", dexerr.Newf(dexerr.KindInvalid, op, "size %s has more than %d decimals for %s", q, a.SzDecimals, a.Name)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = domain.ClientOrderID(c.ids.Next())
	}
	action, err := newOrderAction(a.Index, req)
	if err != nil {
		return "", err
	}
	if _, err := c.tracker.Track(req); err != nil {
		return "", err
	}

	statuses, err := c.postAction(ctx, op, action)
	if err != nil {
		switch {
		case notSent(err):
			c.tracker.Untrack(req.ClientOrderID)
			return "", err
		case dexerr.KindOf(err) == dexerr.KindRejected:
			c.apply(execution.Update{ClientOrderID: req.ClientOrderID, State: domain.OrderRejected, Reason: err.Error(), Source: "rest"})
		}
		return req.ClientOrderID, err
	}

	st, err := parseStatus(statuses[0])
	if err != nil {
		return req.ClientOrderID, dexerr.Wrap(dexerr.KindProtocol, op, err)
	}
	switch {
	case st.Error != nil:
		c.apply(execution.Update{ClientOrderID: req.ClientOrderID, State: domain.OrderRejected, Reason: *st.Error, Source: "rest"})
		return req.ClientOrderID, dexerr.New(dexerr.KindRejected, op, *st.Error)
	case st.Filled != nil:
		c.apply(execution.Update{
			ClientOrderID: req.ClientOrderID,
			OrderID:       st.Filled.Oid,
			State:         domain.OrderFilled,
			FilledQty:     st.Filled.TotalSz,
			AvgPx:         st.Filled.AvgPx,
			Source:        "rest",
		})
	case st.Resting != nil:
		c.apply(execution.Update{ClientOrderID: req.ClientOrderID, OrderID: st.Resting.Oid, State: domain.OrderAcknowledged, Source: "rest"})
	default:
		// waitingForFill and friends: stays Submitted until the orders stream reports it
		slog.Debug("order pending venue acknowledgement", "cloid", req.ClientOrderID, "status", st.Text)
	}
	return req.ClientOrderID, nil
}

// Cancel cancels by exchange id when known, otherwise by client id.
// Cancelling a terminal tracked order fails with AlreadyTerminal without a
// round trip. Untracked orders need req.Coin; the venue decides whether they exist.
func (c *Client) Cancel(ctx context.Context, req domain.CancelRequest) error {
	const op = "cancel"
	if err := c.checkTrading(op); err != nil {
		return err
	}
	if req.ClientOrderID == "" && req.OrderID == 0 {
		return dexerr.New(dexerr.KindInvalid, op, "cloid or oid is required")
	}

	po, err := c.tracker.CheckCancellable(req.ClientOrderID, req.OrderID)
	tracked := err == nil
	switch {
	case dexerr.KindOf(err) == dexerr.KindAlreadyTerminal:
		return err
	case !tracked && req.Coin == "":
		return err
	}
	if tracked {
		if req.Coin == "" {
			req.Coin = po.Request.Coin
		}
		if req.OrderID == 0 {
			req.OrderID = po.OrderID
		}
		if req.ClientOrderID == "" {
			req.ClientOrderID = po.ClientOrderID
		}
	}

	a, err := c.asset(ctx, req.Coin)
	if err != nil {
		return err
	}
	var action any
	if req.OrderID != 0 {
		action = newCancelAction(a.Index, req.OrderID)
	} else {
		action = newCancelByCloidAction(a.Index, req.ClientOrderID)
	}

	statuses, err := c.postAction(ctx, op, action)
	if err != nil {
		return err
	}
	st, err := parseStatus(statuses[0])
	if err != nil {
		return dexerr.Wrap(dexerr.KindProtocol, op, err)
	}
	if st.Error != nil {
		if isGone(*st.Error) {
			return dexerr.New(dexerr.KindNotFound, op, *st.Error)
		}
		return dexerr.New(dexerr.KindRejected, op, *st.Error)
	}
	if tracked {
		c.apply(execution.Update{ClientOrderID: req.ClientOrderID, OrderID: req.OrderID, State: domain.OrderCancelled, Source: "rest"})
	}
	return nil
}

// notSent reports whether a postAction failure happened before the venue could see the request.
func notSent(err error) bool {
	return errors.Is(err, infra.ErrNotSent) || dexerr.KindOf(err) == dexerr.KindSigning
}

func (c *Client) apply(u execution.Update) {
	if _, err := c.tracker.Apply(u); err != nil {
		slog.Debug("order update not applied", "cloid", u.ClientOrderID, "oid", u.OrderID, "state", u.State, "err", err)
	}
}

// postAction signs action with the next nonce, posts it to /exchange and
// returns the per-order statuses. A top-level "err" response is Rejected.
func (c *Client) postAction(ctx context.Context, op string, action any) ([]json.RawMessage, error) {
	nonce := c.nonces.Next()
	env, err := c.signer.SignL1Action(action, nonce, c.vault)
	if err != nil {
		return nil, err
	}
	body := exchangeRequest{Action: action, Nonce: nonce, Signature: env.Signature}
	if c.vault != nil {
		v := strings.ToLower(c.vault.Hex())
		body.VaultAddress = &v
	}

	var resp exchangeResponse
	if err := c.rest.PostJSON(ctx, "/exchange", exchangeWeight, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, dexerr.New(dexerr.KindRejected, op, decodeText(resp.Response))
	}
	var d exchangeData
	if err := json.Unmarshal(resp.Response, &d); err != nil {
		return nil, dexerr.Wrap(dexerr.KindProtocol, op, err)
	}
	if len(d.Data.Statuses) == 0 {
		return nil, dexerr.New(dexerr.KindProtocol, op, "response has no statuses")
	}
	return d.Data.Statuses, nil
}

// decodeText reads a JSON string, falling back to the raw bytes.
func decodeText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
