// Package protocol holds the websocket wire format shared by the relay server
// and the sync client.
//
// Client to server frames are plain text: "joinPage:<n>", "leavePage:<n>",
// "clear", or a JSON encoded action. Server to client frames are JSON objects:
// a history snapshot, a clear notice, or a bare action.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zlnvch/pageboard/models"
)

const (
	joinPagePrefix  = "joinPage:"
	leavePagePrefix = "leavePage:"
	clearFrame      = "clear"
)

const (
	TypeHistory = "history"
	TypeClear   = "clear"
	TypeDraw    = "draw"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownMessage = errors.New("unknown message")
)

func JoinPage(page int) []byte {
	return []byte(joinPagePrefix + strconv.Itoa(page))
}

func LeavePage(page int) []byte {
	return []byte(leavePagePrefix + strconv.Itoa(page))
}

func Clear() []byte {
	return []byte(clearFrame)
}

func EncodeAction(action models.Action) ([]byte, error) {
	return json.Marshal(action)
}

// Message is a decoded server to client frame.
type Message struct {
	Type    string
	Page    int
	History []json.RawMessage
	Cursor  string
	Action  models.Action
}

type inbound struct {
	Type    string             `json:"type"`
	Page    *int               `json:"page"`
	Data    *[]json.RawMessage `json:"data"`
	Cursor  string             `json:"cursor"`
	Prev    *models.Point      `json:"prev"`
	Current *models.Point      `json:"current"`
}

func Decode(data []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch in.Type {
	case TypeHistory:
		if in.Page == nil {
			return Message{}, fmt.Errorf("%w: history without page", ErrMalformed)
		}
		// A missing log must not wipe the page.
		if in.Data == nil {
			return Message{}, fmt.Errorf("%w: history without data", ErrMalformed)
		}
		return Message{Type: TypeHistory, Page: *in.Page, History: *in.Data, Cursor: in.Cursor}, nil

	case TypeClear:
		if in.Page == nil {
			return Message{}, fmt.Errorf("%w: clear without page", ErrMalformed)
		}
		return Message{Type: TypeClear, Page: *in.Page}, nil

	case "":
		if in.Prev == nil || in.Current == nil || in.Page == nil {
			return Message{}, ErrUnknownMessage
		}
		var action models.Action
		if err := json.Unmarshal(data, &action); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Message{Type: TypeDraw, Page: action.Page, Action: action}, nil

	default:
		return Message{}, fmt.Errorf("%w: type %q", ErrUnknownMessage, in.Type)
	}
}

// DecodeHistoryEntry accepts an action either as a JSON object or as a JSON
// string holding the serialized object.
func DecodeHistoryEntry(raw json.RawMessage) (models.Action, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return models.Action{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		trimmed = []byte(s)
	}

	var action models.Action
	if err := json.Unmarshal(trimmed, &action); err != nil {
		return models.Action{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return action, nil
}

type FrameKind int

const (
	FrameJoin FrameKind = iota
	FrameLeave
	FrameClear
	FrameAction
)

// Frame is a decoded client to server frame.
type Frame struct {
	Kind   FrameKind
	Page   int
	Action models.Action
}

func ParseFrame(data []byte) (Frame, error) {
	text := string(bytes.TrimSpace(data))

	switch {
	case text == clearFrame:
		return Frame{Kind: FrameClear}, nil

	case strings.HasPrefix(text, joinPagePrefix):
		page, err := parsePage(text[len(joinPagePrefix):])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameJoin, Page: page}, nil

	case strings.HasPrefix(text, leavePagePrefix):
		page, err := parsePage(text[len(leavePagePrefix):])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameLeave, Page: page}, nil

	case strings.HasPrefix(text, "{"):
		var action models.Action
		if err := json.Unmarshal([]byte(text), &action); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// Ids are assigned by the server only.
		action.Id = ""
		return Frame{Kind: FrameAction, Page: action.Page, Action: action}, nil
	}

	return Frame{}, ErrUnknownMessage
}

func parsePage(s string) (int, error) {
	page, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: page %q", ErrMalformed, s)
	}
	if !models.ValidPage(page) {
		return 0, fmt.Errorf("%w: %d", models.ErrInvalidPage, page)
	}
	return page, nil
}

type historyMessage struct {
	Type   string          `json:"type"`
	Page   int             `json:"page"`
	Data   []models.Action `json:"data"`
	Cursor string          `json:"cursor,omitempty"`
}

type clearMessage struct {
	Type string `json:"type"`
	Page int    `json:"page"`
}

func EncodeHistory(page int, actions []models.Action, cursor string) ([]byte, error) {
	if actions == nil {
		actions = []models.Action{}
	}
	return json.Marshal(historyMessage{Type: TypeHistory, Page: page, Data: actions, Cursor: cursor})
}

func EncodeClear(page int) ([]byte, error) {
	return json.Marshal(clearMessage{Type: TypeClear, Page: page})
}
