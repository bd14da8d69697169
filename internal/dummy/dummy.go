// Package dummy provides scripted stand-ins for the chat transport and the
// provider tiers. A script is a comma-separated list of actions consumed in
// order; the last action repeats once the list is exhausted.
package dummy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/tutor/internal/commander"
	"github.com/stupiduntilnot/tutor/internal/provider"
)

type action struct {
	kind string
	arg  string
}

var prefixed = []string{"err", "sleep", "msg", "msgb64"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
next:
	for _, p := range parts {
		token := strings.TrimSpace(p)
		switch token {
		case "":
			continue
		case "ok", "empty", "malformed":
			actions = append(actions, action{kind: token})
			continue
		}
		for _, kind := range prefixed {
			if arg, ok := strings.CutPrefix(token, kind+":"); ok {
				actions = append(actions, action{kind: kind, arg: arg})
				continue next
			}
		}
		return nil, fmt.Errorf("invalid dummy action: %s", token)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// sleep waits ms milliseconds or until ctx is done.
func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sender identity attached to scripted messages.
const (
	ChatID   int64 = 1
	SenderID int64 = 1
)

// Commander is a scripted chat transport. Poll actions: ok (no updates),
// err:<class>, sleep:<ms>, msg:<text>, msgb64:<base64>. Send actions: ok,
// err:<class>, sleep:<ms>. Sent messages are recorded.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []string
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg":
		return c.update(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		return c.update(string(raw)), nil
	default:
		return nil, nil
	}
}

func (c *Commander) update(text string) []cmdpkg.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateID++
	return []cmdpkg.Update{{
		UpdateID: c.updateID,
		Message: &cmdpkg.Message{
			Chat: cmdpkg.Chat{ID: ChatID},
			From: &cmdpkg.User{ID: SenderID, Username: "dummy"},
			Text: &text,
			Date: time.Now().Unix(),
		},
	}}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return nil
}

// Sent returns the texts delivered so far.
func (c *Commander) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Provider is a scripted provider.Client. Actions: ok, msg:<text>,
// msgb64:<base64>, err:<transport|timeout|malformed>, sleep:<ms>, empty,
// malformed.
type Provider struct {
	mu     sync.Mutex
	name   string
	script *scriptRunner
	reqs   []provider.Request
}

func NewProvider(name, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{name: name, script: runner}, nil
}

func (p *Provider) Invoke(ctx context.Context, req provider.Request) (string, error) {
	p.mu.Lock()
	a := p.script.next()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	switch a.kind {
	case "ok":
		return fmt.Sprintf("%s-ok", emptyAs(p.name, "dummy")), nil
	case "msg":
		return a.arg, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return "", fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return string(raw), nil
	case "err":
		return "", scriptedError(a.arg)
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return "", err
		}
		return "dummy-after-sleep", nil
	case "empty":
		return "", nil
	case "malformed":
		return "", &provider.MalformedResponseError{Reason: "dummy malformed body"}
	default:
		return "dummy-ok", nil
	}
}

// Requests returns every request received so far.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.reqs...)
}

func scriptedError(class string) error {
	switch class {
	case provider.ClassTimeout:
		return &provider.TimeoutError{Err: context.DeadlineExceeded}
	case provider.ClassMalformed:
		return &provider.MalformedResponseError{Reason: "dummy malformed body"}
	default:
		return &provider.TransportError{Err: errors.New("dummy provider error class=" + emptyAs(class, "provider_api"))}
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
