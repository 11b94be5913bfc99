package news

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
)

// Sender is the part of the gateway the supplementer needs.
type Sender interface {
	Send(ctx context.Context, messages []llm.Message, opts ...gateway.Option) (string, error)
}

// Supplementer asks the model for recent news the feed may have missed.
type Supplementer struct {
	sender Sender
	now    func() time.Time
}

func NewSupplementer(sender Sender) *Supplementer {
	return &Supplementer{sender: sender, now: time.Now}
}

// Fetch returns model-provided items for query. Unparseable output yields no
// items rather than an error.
func (s *Supplementer) Fetch(ctx context.Context, query string) ([]Item, error) {
	prompt := fmt.Sprintf(`List the most relevant news articles about %q from the last 30 days (today is %s).
Answer with a JSON array only. Each element must be {"title": string, "url": string, "date": "DD-Mon-YY"}.`,
		query, s.now().Format(DateLayout))
	msgs := []llm.Message{
		llm.System("You are a news researcher. Only cite real, reachable article URLs."),
		llm.User(prompt),
	}
	raw, err := s.sender.Send(ctx, msgs, gateway.WithCacheKey("news:"+query))
	if err != nil {
		return nil, err
	}
	return DedupeJSON([]byte(llm.ExtractJSON(raw))), nil
}
