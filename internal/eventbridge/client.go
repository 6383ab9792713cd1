package eventbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Publisher posts events to a remote bridge. It satisfies EventProcessor
// so an Emitter can feed a server running in another process.
type Publisher struct {
	baseURL string
	client  *http.Client
}

// NewPublisher targets baseURL (for example http://127.0.0.1:8765).
func NewPublisher(baseURL string, client *http.Client) *Publisher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Publisher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// HandleEvent posts e to /events.
func (p *Publisher) HandleEvent(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	resp, err := p.client.Post(p.baseURL+"/events", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("eventbridge: post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("eventbridge: post event: status %d", resp.StatusCode)
	}
	return nil
}

// Stream follows /events/stream and calls fn for each event until ctx is
// cancelled or the server closes the stream. An empty sessionID follows
// every session.
func Stream(ctx context.Context, baseURL, sessionID string, fn func(Event)) error {
	target := strings.TrimRight(baseURL, "/") + "/events/stream"
	if sessionID != "" {
		target += "?" + url.Values{"session": {sessionID}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("eventbridge: stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("eventbridge: stream: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(DefaultMaxBodyBytes))
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(data.String()), &evt); err == nil {
				fn(evt)
			}
			data.Reset()
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
