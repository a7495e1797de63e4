// Package webhook reconciles payment gateway notifications with team cart
// payments.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/money"
)

// Gateway event types handled by the reconciler.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// Metadata keys set on payment intents when members pay online.
const (
	MetaCartID = "teamcart_id"
	MetaUserID = "member_user_id"
)

// DefaultTolerance bounds the age of a signed payload.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrInvalidSignature is returned for payloads that fail verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned for authentic payloads that cannot be parsed.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Event is a verified gateway notification.
type Event struct {
	ID   string
	Type string
	// ObjectID is the payment intent id, used as the transaction id.
	ObjectID string
	// Amount is in major currency units.
	Amount   decimal.Decimal
	Currency money.Currency
	Metadata map[string]string
}

// Gateway verifies and decodes webhook deliveries.
type Gateway interface {
	ConstructEvent(payload []byte, signature string) (Event, error)
}

// HMACGateway verifies "t=<unix>,v1=<hex>" signature headers, where the hex
// value is HMAC-SHA256 of "<unix>.<payload>" keyed with the endpoint secret.
type HMACGateway struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

var _ Gateway = (*HMACGateway)(nil)

// NewHMACGateway creates a gateway. tolerance <= 0 selects DefaultTolerance.
func NewHMACGateway(secret string, tolerance time.Duration) *HMACGateway {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &HMACGateway{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (g *HMACGateway) WithClock(now func() time.Time) *HMACGateway {
	g.now = now
	return g
}

// Sign builds the signature header for payload at the given time.
func (g *HMACGateway) Sign(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(g.mac(ts, payload))
}

// ConstructEvent verifies signature and decodes payload.
func (g *HMACGateway) ConstructEvent(payload []byte, signature string) (Event, error) {
	if err := g.verify(payload, signature); err != nil {
		return Event{}, err
	}
	ev, err := decodeEvent(payload)
	if err != nil {
		return Event{}, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return ev, nil
}

func (g *HMACGateway) verify(payload []byte, header string) error {
	var (
		ts   string
		sigs [][]byte
	)
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := g.now().Sub(time.Unix(unix, 0))
	if age > g.tolerance || age < -g.tolerance {
		return errors.Wrap(ErrInvalidSignature, "timestamp outside tolerance")
	}

	expected := g.mac(ts, payload)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (g *HMACGateway) mac(ts string, payload []byte) []byte {
	h := hmac.New(sha256.New, g.secret)
	h.Write([]byte(ts))
	h.Write([]byte{'.'})
	h.Write(payload)
	return h.Sum(nil)
}

// decodeEvent reads {"id","type","data":{"object":{...}}}. Amounts arrive in
// minor units.
func decodeEvent(payload []byte) (Event, error) {
	var ev Event
	d := jx.DecodeBytes(payload)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			ev.ID, err = d.Str()
		case "type":
			ev.Type, err = d.Str()
		case "data":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "object" {
					return d.Skip()
				}
				return decodeObject(d, &ev)
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Event{}, err
	}
	if ev.ID == "" || ev.Type == "" {
		return Event{}, errors.New("missing event id or type")
	}
	return ev, nil
}

func decodeObject(d *jx.Decoder, ev *Event) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			ev.ObjectID = v
			return err
		case "amount":
			v, err := d.Int64()
			ev.Amount = decimal.New(v, -money.Precision)
			return err
		case "currency":
			v, err := d.Str()
			ev.Currency = money.Currency(strings.ToUpper(v))
			return err
		case "metadata":
			if d.Next() == jx.Null {
				return d.Null()
			}
			ev.Metadata = make(map[string]string)
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if d.Next() != jx.String {
					return d.Skip()
				}
				v, err := d.Str()
				ev.Metadata[string(key)] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
}
