// ABOUTME: SSE event-stream consumption for the glasshouse client
// ABOUTME: Decodes data frames back into session events on a channel

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/glasshouse-dev/glasshouse/internal/session"
)

// sseLineLimit bounds one data frame; tool results can be large.
const sseLineLimit = 8 * 1024 * 1024

// StreamEvents opens the server's event stream and delivers decoded events
// until ctx is cancelled or the connection drops, then closes the channel.
// The first event is always the server's connected event. EventSource-style
// auth is used: the token rides in the access_token query parameter.
func (c *Client) StreamEvents(ctx context.Context) (<-chan *session.Event, error) {
	path := c.baseURL + "/api/events"
	if c.token != "" {
		path += "?access_token=" + url.QueryEscape(c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan *session.Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), sseLineLimit)

		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev session.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			select {
			case out <- &ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WaitForComplete consumes the stream until the given session's turn emits
// its complete event, returning every event seen for that session along the
// way. A convenience for synchronous callers.
func WaitForComplete(ctx context.Context, events <-chan *session.Event, sessionID string) ([]*session.Event, error) {
	var seen []*session.Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return seen, fmt.Errorf("event stream closed before turn completed")
			}
			if ev.SessionID != sessionID {
				continue
			}
			seen = append(seen, ev)
			if ev.Type == session.EventComplete {
				return seen, nil
			}
		case <-ctx.Done():
			return seen, ctx.Err()
		}
	}
}
