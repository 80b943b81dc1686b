package flow

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"bjpass-go/internal/auth"
)

// State of a login flow.
type State int

const (
	StateIdle State = iota
	StateAwaitingProvider
	StateSuccess
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingProvider:
		return "awaiting_provider"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Authenticator is the slice of the auth service the orchestrator drives.
type Authenticator interface {
	BeginAuthorization(ctx context.Context, sessionID, scope string) (*auth.AuthorizationRequest, error)
	CompleteAuthorization(ctx context.Context, sessionID, code, state string) (*auth.Result, error)
}

// Hook wraps a flow run. Hooks execute in registration order around the
// public operation; they replace any runtime patching of methods.
type Hook struct {
	Before  func(ctx context.Context)
	After   func(ctx context.Context, res *auth.Result)
	OnError func(ctx context.Context, err error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval overrides the popup-liveness poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithHooks appends hooks to the chain.
func WithHooks(hooks ...Hook) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, hooks...) }
}

// WithCallbacks sets the host application's terminal callbacks. Exactly one
// of them fires per flow, at most once.
func WithCallbacks(onSuccess func(*auth.Result), onError func(error)) Option {
	return func(o *Orchestrator) {
		o.onSuccess = onSuccess
		o.onError = onError
	}
}

// Orchestrator runs one login operation at a time: Idle ->
// AwaitingProvider -> Success | Error | Cancelled -> Idle.
type Orchestrator struct {
	svc          Authenticator
	popup        Popup
	logger       *slog.Logger
	pollInterval time.Duration
	hooks        []Hook
	onSuccess    func(*auth.Result)
	onError      func(error)

	msgs chan Message

	mu            sync.Mutex
	state         State
	correlationID string
	// success suppresses the race where the popup closes right after
	// firing its message.
	success  bool
	reported bool
}

// New creates an orchestrator around the auth service and popup.
func New(svc Authenticator, popup Popup, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		svc:          svc,
		popup:        popup,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		msgs:         make(chan Message, 1),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current flow state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Deliver hands a cross-window message to the orchestrator. A message is
// accepted while a flow is awaiting the provider, or while idle for a flow
// about to start; once a flow has ended its callbacks are dropped so they
// cannot leak into the next run.
func (o *Orchestrator) Deliver(msg Message) {
	if msg.Type != MessageTypeAuthResponse {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateSuccess || o.state == StateError || o.state == StateCancelled {
		o.logger.Warn("dropped auth-response message from a finished flow")
		return
	}
	select {
	case o.msgs <- msg:
	default:
		o.logger.Warn("dropped auth-response message, one already pending")
	}
}

// Run executes a complete login flow for the session context: build the
// authorization request, open the popup, await exactly one terminal
// message, then exchange and verify. The matching callback (onSuccess or
// onError) fires at most once.
func (o *Orchestrator) Run(ctx context.Context, sessionID, scope string) (*auth.Result, error) {
	o.mu.Lock()
	if o.state == StateAwaitingProvider {
		o.mu.Unlock()
		return nil, fmt.Errorf("login flow already in progress")
	}
	o.state = StateAwaitingProvider
	o.correlationID = uuid.NewString()
	o.success = false
	o.reported = false
	o.mu.Unlock()

	for _, h := range o.hooks {
		if h.Before != nil {
			h.Before(ctx)
		}
	}

	res, err := o.run(ctx, sessionID, scope)
	if err != nil {
		o.terminalError(ctx, err)
		return nil, err
	}
	o.terminalSuccess(ctx, res)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, sessionID, scope string) (*auth.Result, error) {
	req, err := o.svc.BeginAuthorization(ctx, sessionID, scope)
	if err != nil {
		return nil, err
	}

	if err := o.popup.Open(req.URL); err != nil {
		return nil, fmt.Errorf("failed to open authorization window: %w", err)
	}
	defer o.popup.Close()

	o.logger.Info("awaiting provider callback",
		"correlation_id", o.correlationID, "state", req.State)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-o.msgs:
			return o.handleMessage(ctx, sessionID, msg)

		case <-ticker.C:
			o.mu.Lock()
			success := o.success
			o.mu.Unlock()
			if o.popup.Closed() && !success {
				return nil, &PopupClosedError{}
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleMessage validates the callback and performs the exchange. Once the
// success flag is set, a popup closing mid-exchange no longer cancels the
// flow; the exchange completes or times out on its own.
func (o *Orchestrator) handleMessage(ctx context.Context, sessionID string, msg Message) (*auth.Result, error) {
	if msg.Status == StatusError || msg.Error != "" {
		return nil, &auth.AuthenticationError{Code: msg.Error, Description: msg.ErrorDescription}
	}

	params, err := url.ParseQuery(msg.Query)
	if err != nil {
		return nil, &auth.AuthenticationError{Code: "invalid_response", Description: "unparseable callback query"}
	}

	if errCode := params.Get("error"); errCode != "" {
		return nil, &auth.AuthenticationError{Code: errCode, Description: params.Get("error_description")}
	}

	code := params.Get("code")
	state := params.Get("state")
	if code == "" || state == "" {
		return nil, &auth.AuthenticationError{Code: "invalid_response", Description: "missing code or state"}
	}

	o.mu.Lock()
	o.success = true
	o.mu.Unlock()
	o.popup.Close()

	return o.svc.CompleteAuthorization(ctx, sessionID, code, state)
}

// discardPending drops a callback that raced the terminal transition into
// the channel. Called with o.mu held.
func (o *Orchestrator) discardPending() {
	select {
	case <-o.msgs:
		o.logger.Warn("discarded auth-response message from a finished flow")
	default:
	}
}

func (o *Orchestrator) terminalSuccess(ctx context.Context, res *auth.Result) {
	o.mu.Lock()
	if o.reported {
		o.mu.Unlock()
		return
	}
	o.reported = true
	o.state = StateSuccess
	o.discardPending()
	o.mu.Unlock()

	for _, h := range o.hooks {
		if h.After != nil {
			h.After(ctx, res)
		}
	}
	if o.onSuccess != nil {
		o.onSuccess(res)
	}
}

func (o *Orchestrator) terminalError(ctx context.Context, err error) {
	o.mu.Lock()
	if o.reported {
		o.mu.Unlock()
		return
	}
	o.reported = true
	if _, closed := err.(*PopupClosedError); closed {
		o.state = StateCancelled
	} else {
		o.state = StateError
	}
	o.discardPending()
	o.mu.Unlock()

	o.logger.Info("login flow ended", "state", o.State().String(), "error", err)

	for _, h := range o.hooks {
		if h.OnError != nil {
			h.OnError(ctx, err)
		}
	}
	if o.onError != nil {
		o.onError(err)
	}
}

// Reset returns a terminal orchestrator to Idle so a new flow can start.
// Run performs this implicitly; Reset exists for hosts that surface the
// terminal state before restarting.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateAwaitingProvider {
		o.state = StateIdle
	}
}
