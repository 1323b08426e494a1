// Package json frames messages as {"TypeName": {...}} so the receiver can
// pick the Go type from the key.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrorBug             = errors.New("bug")
	ErrorInvaildJSONData = errors.New("invalid json data")
	ErrorNoPointer       = errors.New("json message pointer required")
	ErrorNotRegister     = errors.New("message not registered")
	ErrorRegistered      = errors.New("message already registered")
	ErrorUnnamed         = errors.New("unnamed json message")
)

type Processor struct {
	msgInfo map[string]*MsgInfo
}

type MsgInfo struct {
	msgType reflect.Type
}

func NewCodec() *Processor {
	p := new(Processor)
	p.msgInfo = make(map[string]*MsgInfo)

	return p
}

// Register adds the type of msg, which must be a pointer to a named struct,
// and returns its message id. Register everything before the codec is used.
func (p *Processor) Register(msg interface{}) (string, error) {
	msgType := reflect.TypeOf(msg)

	if msgType == nil || msgType.Kind() != reflect.Ptr {
		return "", ErrorNoPointer
	}

	msgID := msgType.Elem().Name()
	if msgID == "" {
		return "", ErrorUnnamed
	}

	if _, ok := p.msgInfo[msgID]; ok {
		return "", fmt.Errorf("%s %w", msgID, ErrorRegistered)
	}

	p.msgInfo[msgID] = &MsgInfo{msgType: msgType}

	return msgID, nil
}

func (p *Processor) String() string {
	return "json"
}

func (p *Processor) Unmarshal(data []byte) (interface{}, error) {
	var m map[string]json.RawMessage

	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal json %w", err)
	}

	if len(m) != 1 {
		return nil, ErrorInvaildJSONData
	}

	for msgID, data := range m {
		i, ok := p.msgInfo[msgID]
		if !ok {
			return nil, fmt.Errorf("message %v not registered %w", msgID, ErrorNotRegister)
		}

		msg := reflect.New(i.msgType.Elem()).Interface()

		if err := json.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s %w", msgID, err)
		}

		return msg, nil
	}

	return nil, ErrorBug
}

func (p *Processor) Marshal(msg interface{}) ([]byte, error) {
	msgType := reflect.TypeOf(msg)
	if msgType == nil || msgType.Kind() != reflect.Ptr {
		return nil, ErrorNoPointer
	}

	msgID := msgType.Elem().Name()
	if _, ok := p.msgInfo[msgID]; !ok {
		return nil, fmt.Errorf("message %v not registered %w", msgID, ErrorNotRegister)
	}

	m := map[string]interface{}{msgID: msg}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json %w", err)
	}

	return data, nil
}
