// Package widget implements the chat interaction: one question in flight at a
// time, a loading placeholder while waiting, and exactly one bot reply per
// question, either the answer or an error text.
package widget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chatwidget/internal/backend"
	"chatwidget/internal/config"
	"chatwidget/internal/logging"
	"chatwidget/internal/transcript"
)

var (
	// ErrEmptyInput is returned when the trimmed input is empty.
	ErrEmptyInput = errors.New("empty input")
	// ErrBusy is returned while a request is in flight.
	ErrBusy = errors.New("a request is already in flight")
)

// CancelledText replaces the placeholder when the user abandons a request.
const CancelledText = "Request cancelled."

// State of the widget.
type State int

const (
	Idle State = iota
	Waiting
)

func (s State) String() string {
	if s == Waiting {
		return "waiting"
	}
	return "idle"
}

// Texts are the user-visible strings the widget writes into the transcript.
type Texts struct {
	Greeting           string
	Loading            string
	ServerError        string
	NetworkErrorPrefix string
}

// DefaultTexts returns the built-in texts.
func DefaultTexts() Texts {
	return TextsFromConfig(config.DefaultConfig().Widget)
}

// TextsFromConfig maps the widget config section onto Texts.
func TextsFromConfig(wc config.WidgetConfig) Texts {
	return Texts{
		Greeting:           wc.Greeting,
		Loading:            wc.LoadingText,
		ServerError:        wc.ServerErrorText,
		NetworkErrorPrefix: wc.NetworkErrorPrefix,
	}
}

// Exchange is one in-flight question.
type Exchange struct {
	Question    transcript.Message
	Placeholder transcript.Message
	started     time.Time
}

// Outcome is the settled result of an Exchange.
type Outcome struct {
	Answer  transcript.Message
	Err     error
	Elapsed time.Duration
}

// Failed reports whether the exchange ended in an error text.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// TurnHook observes each completed question/reply pair.
type TurnHook func(question, reply transcript.Message)

// Widget is safe for concurrent use.
type Widget struct {
	mu      sync.Mutex
	tr      *transcript.Transcript
	asker   backend.Asker
	texts   Texts
	state   State
	current *Exchange
	hooks   []TurnHook
	log     *logging.Logger
	audit   *logging.AuditLogger
}

// Option configures a Widget.
type Option func(*Widget)

// WithTranscript uses an existing transcript instead of a fresh one.
func WithTranscript(tr *transcript.Transcript) Option {
	return func(w *Widget) {
		if tr != nil {
			w.tr = tr
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Widget) {
		if l != nil {
			w.log = l
		}
	}
}

// WithAudit scopes the widget's audit events, usually to a history session.
func WithAudit(a *logging.AuditLogger) Option {
	return func(w *Widget) {
		if a != nil {
			w.audit = a
		}
	}
}

// New creates an idle widget and shows the greeting, if any.
func New(asker backend.Asker, texts Texts, opts ...Option) *Widget {
	w := &Widget{
		tr:    transcript.New(),
		asker: asker,
		texts: texts,
		log:   logging.Get(logging.CategoryWidget),
		audit: logging.Audit(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.greet()
	return w
}

func (w *Widget) greet() {
	if w.texts.Greeting != "" {
		w.tr.Append(transcript.RoleBot, transcript.KindGreeting, w.texts.Greeting)
	}
}

// State returns the current state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Transcript returns the widget's transcript. Listeners subscribed to it run
// while the widget's lock is held and must not call back into the widget.
func (w *Widget) Transcript() *transcript.Transcript {
	return w.tr
}

// Texts returns the texts in use.
func (w *Widget) Texts() Texts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.texts
}

// SetTexts swaps the texts used for subsequent messages.
func (w *Widget) SetTexts(t Texts) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.texts = t
}

// OnTurn registers a hook called after every Finish.
func (w *Widget) OnTurn(h TurnHook) {
	if h == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, h)
}

// Begin records the question and the loading placeholder and moves to
// Waiting. The caller must pass the returned Exchange to Finish.
func (w *Widget) Begin(input string) (*Exchange, error) {
	question := strings.TrimSpace(input)
	if question == "" {
		return nil, ErrEmptyInput
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Waiting {
		return nil, ErrBusy
	}

	ex := &Exchange{
		Question:    w.tr.Append(transcript.RoleUser, transcript.KindNormal, question),
		Placeholder: w.tr.Append(transcript.RoleBot, transcript.KindLoading, w.texts.Loading),
		started:     time.Now(),
	}
	w.state = Waiting
	w.current = ex
	w.log.Debug("exchange started: %d chars", len(question))
	w.audit.ExchangeStart(len(question))
	return ex, nil
}

// Finish settles the exchange: the placeholder is replaced by the answer or
// by the error text matching err. A stale or nil exchange is ignored.
func (w *Widget) Finish(ex *Exchange, answer string, err error) Outcome {
	w.mu.Lock()
	if ex == nil || w.current != ex {
		w.mu.Unlock()
		return Outcome{Err: err}
	}

	w.tr.Remove(ex.Placeholder.ID)

	var reply transcript.Message
	if err != nil {
		reply = w.tr.Append(transcript.RoleBot, transcript.KindError, w.errorText(err))
	} else {
		reply = w.tr.Append(transcript.RoleBot, transcript.KindNormal, answer)
	}

	w.current = nil
	w.state = Idle
	hooks := w.hooks
	w.mu.Unlock()

	out := Outcome{Answer: reply, Err: err, Elapsed: time.Since(ex.started)}
	w.audit.ExchangeComplete(out.Elapsed.Milliseconds(), len(answer), err)
	if err != nil {
		w.log.Warn("exchange failed after %v: %v", out.Elapsed, err)
	} else {
		w.log.Info("exchange answered in %v", out.Elapsed)
	}

	for _, h := range hooks {
		h(ex.Question, reply)
	}
	return out
}

// errorText picks the message for a failure class. Callers hold w.mu.
func (w *Widget) errorText(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return CancelledText
	case backend.IsNetwork(err):
		var ne *backend.NetworkError
		errors.As(err, &ne)
		return w.texts.NetworkErrorPrefix + ne.Err.Error()
	case errors.Is(err, backend.ErrNoAnswer):
		return w.texts.ServerError
	default:
		return w.texts.NetworkErrorPrefix + err.Error()
	}
}

// Submit runs a whole exchange synchronously. The returned error is only
// ErrEmptyInput or ErrBusy; request failures are reported in Outcome.Err.
func (w *Widget) Submit(ctx context.Context, input string) (Outcome, error) {
	ex, err := w.Begin(input)
	if err != nil {
		return Outcome{}, err
	}
	answer, askErr := w.asker.Ask(ctx, ex.Question.Text)
	return w.Finish(ex, answer, askErr), nil
}

// Ask performs the backend call for an exchange begun with Begin.
func (w *Widget) Ask(ctx context.Context, ex *Exchange) (string, error) {
	return w.asker.Ask(ctx, ex.Question.Text)
}

// Reset clears the transcript and shows the greeting again.
func (w *Widget) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Waiting {
		return ErrBusy
	}
	w.tr.Clear()
	w.greet()
	return nil
}
