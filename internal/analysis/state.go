package analysis

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/brandscope/internal/llm"
)

// ErrInvalidState is returned when the model's analysis does not have the
// expected shape.
var ErrInvalidState = errors.New("invalid analysis state")

// CategoryKeys are the nine marketing Cs, in display order.
var CategoryKeys = []string{
	"consumer",
	"cost",
	"convenience",
	"communication",
	"competitive",
	"media",
	"product",
	"industry",
	"technology",
}

var defaultTitles = map[string]string{
	"consumer":      "Consumer",
	"cost":          "Cost",
	"convenience":   "Convenience",
	"communication": "Communication",
	"competitive":   "Competitive Landscape",
	"media":         "Media",
	"product":       "Product",
	"industry":      "Industry",
	"technology":    "Technology",
}

// Topic is one headline with its supporting insights.
type Topic struct {
	Headline string   `json:"headline"`
	Insights []string `json:"insights"`
}

// Category is one of the nine marketing Cs.
type Category struct {
	Title  string  `json:"title"`
	Topics []Topic `json:"topics"`
}

// State maps every category key to its content.
type State map[string]Category

// Validate checks that all nine categories are present, each with at least
// one topic and every topic with a headline and an insights list.
func (s State) Validate() error {
	for _, key := range CategoryKeys {
		c, ok := s[key]
		if !ok {
			return fmt.Errorf("%w: missing category %q", ErrInvalidState, key)
		}
		if len(c.Topics) == 0 {
			return fmt.Errorf("%w: category %q has no topics", ErrInvalidState, key)
		}
		for i, t := range c.Topics {
			if t.Headline == "" {
				return fmt.Errorf("%w: category %q topic %d has no headline", ErrInvalidState, key, i)
			}
			if t.Insights == nil {
				return fmt.Errorf("%w: category %q topic %d has no insights", ErrInvalidState, key, i)
			}
		}
	}
	return nil
}

// ParseState extracts the first JSON object from raw model output, decodes
// the nine categories and validates them. Unknown keys are ignored and
// missing titles are filled in.
func ParseState(raw string) (State, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if inner, ok := doc["marketingCs"]; ok {
		doc = nil
		if err := json.Unmarshal(inner, &doc); err != nil {
			return nil, fmt.Errorf("%w: marketingCs: %v", ErrInvalidState, err)
		}
	}
	state := make(State, len(CategoryKeys))
	for _, key := range CategoryKeys {
		v, ok := doc[key]
		if !ok {
			continue
		}
		var c Category
		if err := json.Unmarshal(v, &c); err != nil {
			return nil, fmt.Errorf("%w: category %q: %v", ErrInvalidState, key, err)
		}
		if c.Title == "" {
			c.Title = defaultTitles[key]
		}
		state[key] = c
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return state, nil
}
