package a2a

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kadirpekel/conclave/pkg/httpclient"
)

// RemoteAgent forwards requests to an agent served by another process
// through its POST /a2a endpoint.
type RemoteAgent struct {
	id     string
	url    string
	client *httpclient.Client
}

// NewRemoteAgent registers url under the local id. The recipient field is
// forwarded unchanged, so id should match the remote agent's id.
func NewRemoteAgent(id, url string, timeout time.Duration) *RemoteAgent {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RemoteAgent{
		id:  id,
		url: url,
		client: httpclient.New(
			httpclient.WithTimeout(timeout),
			httpclient.WithMaxRetries(2),
		),
	}
}

func (a *RemoteAgent) AgentID() string { return a.id }

func (a *RemoteAgent) Handle(ctx context.Context, req *Message) (any, error) {
	var resp Message
	if err := a.client.DoJSON(ctx, http.MethodPost, a.url, nil, req, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("remote %s: %w", a.url, ErrUnknownAgent)
		}
		return nil, fmt.Errorf("remote agent %s unreachable: %w", a.id, err)
	}

	if !resp.Succeeded() {
		msg := resp.ErrorMessage()
		if msg == "" {
			msg = "remote agent reported failure"
		}
		return resp.Result(), errors.New(msg)
	}
	return resp.Result(), nil
}

var _ Agent = (*RemoteAgent)(nil)
