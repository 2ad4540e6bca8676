package cache

import (
	"encoding/json"
)

type RedisMessage struct {
	Type   string          `json:"type"`
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

func encodeMessage(origin string, ev interface{ Type() string }) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(RedisMessage{
		Type:   ev.Type(),
		Origin: origin,
		Event:  b,
	})
}
