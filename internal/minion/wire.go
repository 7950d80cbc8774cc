package minion

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// wireMessage is the decoded shape of any relay->client frame: NOTICE,
// EVENT, EOSE, OK, CLOSED, AUTH. All are JSON arrays whose first element
// is the label; go-nostr already knows how to parse individual pieces
// (nostr.Event, nostr.Filter) so this file only does the outer-array
// dispatch the teacher never needed (nostr.go delegates that to
// nostr.SimplePool internally; the minion owns it directly here).
type wireMessage struct {
	Label   string
	WireId  string
	Event   *nostr.Event
	Ok      bool
	Message string
	Challenge string
}

func decodeWireMessage(raw []byte) (wireMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return wireMessage{}, fmt.Errorf("%w: %v", gossiptype.ErrParseError, err)
	}
	if len(arr) == 0 {
		return wireMessage{}, fmt.Errorf("%w: empty frame", gossiptype.ErrParseError)
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return wireMessage{}, fmt.Errorf("%w: label: %v", gossiptype.ErrParseError, err)
	}
	msg := wireMessage{Label: label}
	switch label {
	case "EVENT":
		if len(arr) < 3 {
			return wireMessage{}, fmt.Errorf("%w: short EVENT frame", gossiptype.ErrParseError)
		}
		_ = json.Unmarshal(arr[1], &msg.WireId)
		var ev nostr.Event
		if err := json.Unmarshal(arr[2], &ev); err != nil {
			return wireMessage{}, fmt.Errorf("%w: event: %v", gossiptype.ErrParseError, err)
		}
		msg.Event = &ev
	case "EOSE":
		if len(arr) < 2 {
			return wireMessage{}, fmt.Errorf("%w: short EOSE frame", gossiptype.ErrParseError)
		}
		_ = json.Unmarshal(arr[1], &msg.WireId)
	case "CLOSED":
		if len(arr) < 2 {
			return wireMessage{}, fmt.Errorf("%w: short CLOSED frame", gossiptype.ErrParseError)
		}
		_ = json.Unmarshal(arr[1], &msg.WireId)
		if len(arr) >= 3 {
			_ = json.Unmarshal(arr[2], &msg.Message)
		}
	case "OK":
		if len(arr) < 3 {
			return wireMessage{}, fmt.Errorf("%w: short OK frame", gossiptype.ErrParseError)
		}
		_ = json.Unmarshal(arr[1], &msg.WireId)
		_ = json.Unmarshal(arr[2], &msg.Ok)
		if len(arr) >= 4 {
			_ = json.Unmarshal(arr[3], &msg.Message)
		}
	case "NOTICE":
		if len(arr) >= 2 {
			_ = json.Unmarshal(arr[1], &msg.Message)
		}
	case "AUTH":
		if len(arr) >= 2 {
			_ = json.Unmarshal(arr[1], &msg.Challenge)
		}
	default:
		return wireMessage{}, fmt.Errorf("%w: unknown label %q", gossiptype.ErrParseError, label)
	}
	return msg, nil
}

func encodeReq(wireId string, filters []gossiptype.Filter) ([]byte, error) {
	arr := make([]interface{}, 0, len(filters)+2)
	arr = append(arr, "REQ", wireId)
	for _, f := range filters {
		arr = append(arr, f)
	}
	return json.Marshal(arr)
}

func encodeClose(wireId string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", wireId})
}

func encodeEvent(e nostr.Event) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", e})
}

func encodeAuth(e nostr.Event) ([]byte, error) {
	return json.Marshal([]interface{}{"AUTH", e})
}
