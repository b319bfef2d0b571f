package router

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rickgao/coinfeed/internal/api"
	"github.com/rickgao/coinfeed/internal/model"
)

// Binance single-letter keys differ only by case ("c" close price vs "C"
// close time), so payloads are read as exact-key maps rather than structs.
type wireObject map[string]json.RawMessage

// Key sets per event type. Field letters map to model.Fields.
var (
	tickerKeys = fieldKeys{
		price:         "c",
		openPrice:     "o",
		high:          "h",
		low:           "l",
		changePercent: "P",
		volume:        "v",
		quoteVolume:   "q",
	}
	miniTickerKeys = fieldKeys{
		price:       "c",
		openPrice:   "o",
		high:        "h",
		low:         "l",
		volume:      "v",
		quoteVolume: "q",
	}
)

type fieldKeys struct {
	price, openPrice, high, low, changePercent, volume, quoteVolume string
}

// Decode parses one stream message. Both combined-stream envelopes and bare
// events are accepted. Errors wrap ErrDecode, ErrControl or ErrUnsupported.
func Decode(data []byte) (Increment, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return Increment{}, err
	}

	if _, ok := obj["result"]; ok {
		return Increment{}, ErrControl
	}
	if inner, ok := obj["data"]; ok {
		if obj, err = decodeObject(inner); err != nil {
			return Increment{}, err
		}
	}

	event, err := stringField(obj, "e")
	if err != nil {
		return Increment{}, err
	}

	var keys fieldKeys
	switch event {
	case EventTicker:
		keys = tickerKeys
	case EventMiniTicker:
		keys = miniTickerKeys
	case "":
		return Increment{}, fmt.Errorf("%w: missing event type", ErrDecode)
	default:
		return Increment{}, fmt.Errorf("%w: %q", ErrUnsupported, event)
	}

	sym, err := stringField(obj, "s")
	if err != nil {
		return Increment{}, err
	}
	if sym == "" {
		return Increment{}, fmt.Errorf("%w: missing symbol", ErrDecode)
	}

	inc := Increment{Event: event, Symbol: model.NormalizeSymbol(sym)}
	f := &inc.Fields

	targets := []struct {
		key string
		dst **float64
	}{
		{keys.price, &f.Price},
		{keys.openPrice, &f.OpenPrice},
		{keys.high, &f.High},
		{keys.low, &f.Low},
		{keys.changePercent, &f.ChangePercent},
		{keys.volume, &f.Volume},
		{keys.quoteVolume, &f.QuoteVolume},
	}
	for _, t := range targets {
		if t.key == "" {
			continue
		}
		v, ok, err := decimalField(obj, t.key)
		if err != nil {
			return Increment{}, err
		}
		if ok {
			*t.dst = model.Float(v)
		}
	}

	if raw, ok := obj["E"]; ok {
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return Increment{}, fmt.Errorf("%w: field E: %v", ErrDecode, err)
		}
		f.EventTime = api.MillisToTime(ms)
	}

	return inc, nil
}

func decodeObject(data []byte) (wireObject, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrDecode)
	}
	var obj wireObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return obj, nil
}

func stringField(obj wireObject, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: field %s: %v", ErrDecode, key, err)
	}
	return s, nil
}

// decimalField reads a quoted exchange decimal. ok is false when key is absent.
func decimalField(obj wireObject, key string) (v float64, ok bool, err error) {
	raw, present := obj[key]
	if !present || string(raw) == "null" {
		return 0, false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false, fmt.Errorf("%w: field %s: %v", ErrDecode, key, err)
	}
	v, err = api.ParseDecimal(s)
	if err != nil {
		return 0, false, fmt.Errorf("%w: field %s: %w", ErrDecode, key, err)
	}
	return v, true, nil
}
