package grading

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Response is the parsed form of a stored response_json. Exactly one of the
// concrete variants below.
type Response interface{ isResponse() }

type (
	Empty        struct{}
	SelectedOne  struct{ ID string }
	SelectedMany struct{ IDs []string }
	NumberValue  struct{ Value float64 }
	TextValue    struct{ Text string }
)

func (Empty) isResponse()        {}
func (SelectedOne) isResponse()  {}
func (SelectedMany) isResponse() {}
func (NumberValue) isResponse()  {}
func (TextValue) isResponse()    {}

// wire shape written by the clients: {"selected": ...}, {"value": ...}, {"text": ...}
type rawResponse struct {
	Selected json.RawMessage `json:"selected"`
	Value    json.RawMessage `json:"value"`
	Text     *string         `json:"text"`
}

// ParseResponse never fails: anything that does not fit the question type
// becomes Empty. Stored rows predating strict validation may hold numbers
// as strings; those are still read.
func ParseResponse(t QuestionType, raw []byte) Response {
	r, err := decode(t, raw, false)
	if err != nil {
		return Empty{}
	}
	return r
}

// ValidateResponse reports whether raw has exactly the shape t expects: the
// one key of the question type and, for numbers, a JSON number. An explicit
// empty answer ({} or null) is valid; it clears the response.
func ValidateResponse(t QuestionType, raw []byte) error {
	_, err := decode(t, raw, true)
	return err
}

// responseKey is the only field each question type's response may carry.
func responseKey(t QuestionType) string {
	switch t {
	case TypeMCQSingle, TypeTrueFalse, TypeMCQMulti:
		return "selected"
	case TypeNumber:
		return "value"
	case TypeShortText, TypeLongText:
		return "text"
	}
	return ""
}

func decode(t QuestionType, raw []byte, strict bool) (Response, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == "{}" {
		return Empty{}, nil
	}
	var rr rawResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if strict {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("response is not a JSON object: %w", err)
		}
		want := responseKey(t)
		for k := range fields {
			if k != want {
				return nil, fmt.Errorf("unexpected field %q for a %s question", k, t)
			}
		}
	}

	switch t {
	case TypeMCQSingle, TypeTrueFalse:
		if len(rr.Selected) == 0 {
			return nil, errors.New(`expected {"selected": "<option id>"}`)
		}
		var id string
		if err := json.Unmarshal(rr.Selected, &id); err != nil {
			// a one-element list is accepted for single choice
			var ids []string
			if err2 := json.Unmarshal(rr.Selected, &ids); err2 != nil || len(ids) > 1 {
				return nil, errors.New("selected must be a single option id")
			}
			if len(ids) == 1 {
				id = ids[0]
			}
		}
		if id == "" {
			return Empty{}, nil
		}
		return SelectedOne{ID: id}, nil

	case TypeMCQMulti:
		if len(rr.Selected) == 0 {
			return nil, errors.New(`expected {"selected": ["<option id>", ...]}`)
		}
		var ids []string
		if err := json.Unmarshal(rr.Selected, &ids); err != nil {
			return nil, errors.New("selected must be a list of option ids")
		}
		if len(ids) == 0 {
			return Empty{}, nil
		}
		return SelectedMany{IDs: ids}, nil

	case TypeNumber:
		if len(rr.Value) == 0 {
			return nil, errors.New(`expected {"value": <number>}`)
		}
		var f float64
		if err := json.Unmarshal(rr.Value, &f); err != nil {
			if strict {
				return nil, errors.New("value must be a JSON number")
			}
			var str string
			if err2 := json.Unmarshal(rr.Value, &str); err2 != nil {
				return nil, errors.New("value must be a number")
			}
			if strings.TrimSpace(str) == "" {
				return Empty{}, nil
			}
			v, ok := parseFloatLoose(str)
			if !ok {
				return nil, fmt.Errorf("value %q is not a number", str)
			}
			f = v
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.New("value must be finite")
		}
		return NumberValue{Value: f}, nil

	case TypeShortText, TypeLongText:
		if rr.Text == nil {
			return nil, errors.New(`expected {"text": "..."}`)
		}
		if strings.TrimSpace(*rr.Text) == "" {
			return Empty{}, nil
		}
		return TextValue{Text: *rr.Text}, nil
	}
	return nil, fmt.Errorf("unknown question type %q", t)
}
