// Package negotiation tracks the media path handshake between pairs of
// participants. The core relays SDP offers and answers and supervises
// the per-pair state machine with bounded retries; once a pair reaches
// Established, the media transport collaborator carries the actual
// audio/video bytes. Negotiation runs independently of the session
// coordinator's serialization point: a stalled handshake never blocks
// log append or broadcast.
package negotiation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// State of one participant-pair handshake.
type State string

const (
	StateIdle           State = "idle"
	StateOfferSent      State = "offer_sent"
	StateAnswerReceived State = "answer_received"
	StateEstablished    State = "established"
	StateFailed         State = "failed"
	StateClosed         State = "closed"
)

// Default bounds, overridable via Config. Shapes follow the usual SDP
// signaling budgets: a short per-attempt wait for the answer and a
// longer overall bound for ICE to complete.
const (
	defaultOfferTimeout     = 10 * time.Second
	defaultEstablishTimeout = 30 * time.Second
	defaultBackoff          = 500 * time.Millisecond
	defaultMaxRetries       = 3
)

// Config bounds the handshake supervision.
type Config struct {
	// OfferTimeout is how long each offer attempt waits for an answer.
	OfferTimeout time.Duration
	// EstablishTimeout bounds the span from answer to ICE completion.
	EstablishTimeout time.Duration
	// Backoff is the initial delay between offer retries; it doubles
	// each attempt.
	Backoff time.Duration
	// MaxRetries is how many times the offer is re-sent after the first
	// attempt before the handle fails.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = defaultOfferTimeout
	}
	if c.EstablishTimeout <= 0 {
		c.EstablishTimeout = defaultEstablishTimeout
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// Sender forwards signaling payloads to a participant's client channel.
// Implemented by the hub.
type Sender interface {
	SendOffer(targetID, initiatorID string, offer webrtc.SessionDescription) error
	SendAnswer(initiatorID, targetID string, answer webrtc.SessionDescription) error
}

// FailureFunc is invoked when a pair's handshake fails. The coordinator
// turns this into a PresenceChange (media unavailable) event; the
// session itself is never terminated by a media failure.
type FailureFunc func(initiatorID, targetID string, err error)

// Handle tracks one pair's handshake.
type Handle struct {
	ID          string
	InitiatorID string
	TargetID    string

	mu    sync.Mutex
	state State
	offer webrtc.SessionDescription

	answered    chan struct{}
	established chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
}

// State returns the handle's current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed when the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.closed }

func (h *Handle) transition(from []State, to State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range from {
		if h.state == s {
			h.state = to
			return true
		}
	}
	return false
}

func (h *Handle) close(final State) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.state = final
		h.mu.Unlock()
		close(h.closed)
	})
}

// Manager supervises all negotiation handles of one server instance.
type Manager struct {
	cfg       Config
	sender    Sender
	onFailure FailureFunc

	mu      sync.Mutex
	handles map[string]*Handle // pair key -> handle
	wg      sync.WaitGroup
	log     *logrus.Entry
}

// NewManager creates a negotiation manager. sender must be non-nil;
// onFailure may be nil when failures need no presence reporting (tests).
func NewManager(cfg Config, sender Sender, onFailure FailureFunc) *Manager {
	if sender == nil {
		panic("sender cannot be nil for negotiation manager")
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		sender:    sender,
		onFailure: onFailure,
		handles:   make(map[string]*Handle),
		log:       logrus.WithField("component", "negotiation"),
	}
}

func pairKey(initiatorID, targetID string) string {
	return initiatorID + "|" + targetID
}

// Initiate starts (or restarts, if the previous attempt is terminal) a
// handshake from initiator to target with the given client-produced
// offer. The returned handle is supervised by a background goroutine:
// the offer is re-sent with exponential backoff until an answer
// arrives, then ICE completion is awaited, and any timeout moves the
// handle to Failed and reports the pair through FailureFunc.
func (m *Manager) Initiate(initiatorID, targetID string, offer webrtc.SessionDescription) (*Handle, error) {
	key := pairKey(initiatorID, targetID)

	m.mu.Lock()
	if existing, ok := m.handles[key]; ok {
		switch existing.State() {
		case StateFailed, StateClosed:
			// replaced below
		default:
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: negotiation already in progress for pair %s", ErrInvalidTransition, key)
		}
	}
	h := &Handle{
		ID:          uuid.NewString(),
		InitiatorID: initiatorID,
		TargetID:    targetID,
		state:       StateIdle,
		offer:       offer,
		answered:    make(chan struct{}),
		established: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	m.handles[key] = h
	m.mu.Unlock()

	m.wg.Add(1)
	go m.supervise(h)
	return h, nil
}

// ReceiveAnswer records the target's answer and relays it back to the
// initiator. Valid only while an offer is outstanding.
func (m *Manager) ReceiveAnswer(initiatorID, targetID string, answer webrtc.SessionDescription) error {
	h, ok := m.handle(initiatorID, targetID)
	if !ok {
		return ErrUnknownHandle
	}
	if !h.transition([]State{StateOfferSent}, StateAnswerReceived) {
		return fmt.Errorf("%w: answer in state %s", ErrInvalidTransition, h.State())
	}
	select {
	case <-h.answered:
	default:
		close(h.answered)
	}
	if err := m.sender.SendAnswer(initiatorID, targetID, answer); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"initiator_id": initiatorID,
			"target_id":    targetID,
		}).Warn("Failed to relay answer to initiator")
	}
	return nil
}

// ICEComplete marks the pair Established.
func (m *Manager) ICEComplete(initiatorID, targetID string) error {
	h, ok := m.handle(initiatorID, targetID)
	if !ok {
		return ErrUnknownHandle
	}
	if !h.transition([]State{StateAnswerReceived}, StateEstablished) {
		return fmt.Errorf("%w: ice complete in state %s", ErrInvalidTransition, h.State())
	}
	close(h.established)
	m.log.WithFields(logrus.Fields{
		"initiator_id": initiatorID,
		"target_id":    targetID,
		"handle_id":    h.ID,
	}).Info("Media path established")
	return nil
}

// ParticipantLeft cancels every handle the participant is part of:
// established paths move to Closed, in-flight handshakes are cancelled
// without being reported as failures.
func (m *Manager) ParticipantLeft(participantID string) {
	m.mu.Lock()
	var affected []*Handle
	for key, h := range m.handles {
		if h.InitiatorID == participantID || h.TargetID == participantID {
			affected = append(affected, h)
			delete(m.handles, key)
		}
	}
	m.mu.Unlock()

	for _, h := range affected {
		h.close(StateClosed)
	}
	if len(affected) > 0 {
		m.log.WithFields(logrus.Fields{
			"participant_id": participantID,
			"handles":        len(affected),
		}).Info("Cancelled negotiation handles for departed participant")
	}
}

// Close cancels all handles and waits for their supervisors to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	for key, h := range m.handles {
		h.close(StateClosed)
		delete(m.handles, key)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) handle(initiatorID, targetID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[pairKey(initiatorID, targetID)]
	return h, ok
}

// supervise drives one handle through the offer retry loop and the
// establishment wait. It runs outside the session coordinator, so a
// slow or unresponsive peer only ever delays its own pair.
func (m *Manager) supervise(h *Handle) {
	defer m.wg.Done()
	logCtx := m.log.WithFields(logrus.Fields{
		"initiator_id": h.InitiatorID,
		"target_id":    h.TargetID,
		"handle_id":    h.ID,
	})

	backoff := m.cfg.Backoff
	answered := false
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		select {
		case <-h.answered:
			answered = true
		case <-h.closed:
			return
		default:
		}
		if answered {
			break
		}
		if !h.transition([]State{StateIdle, StateOfferSent}, StateOfferSent) {
			return // cancelled between attempts
		}
		if err := m.sender.SendOffer(h.TargetID, h.InitiatorID, h.offer); err != nil {
			logCtx.WithError(err).WithField("attempt", attempt+1).Warn("Failed to deliver offer")
		}

		timer := time.NewTimer(m.cfg.OfferTimeout)
		select {
		case <-h.answered:
			timer.Stop()
			answered = true
		case <-h.closed:
			timer.Stop()
			return
		case <-timer.C:
			if attempt < m.cfg.MaxRetries {
				logCtx.WithField("attempt", attempt+1).Debug("No answer yet, retrying offer")
				select {
				case <-time.After(backoff):
				case <-h.answered:
					answered = true
				case <-h.closed:
					return
				}
				backoff *= 2
			}
		}
		if answered {
			break
		}
	}
	if !answered {
		m.fail(h, logCtx, fmt.Errorf("%w: no answer after %d attempts", ErrNegotiationTimeout, m.cfg.MaxRetries+1))
		return
	}

	timer := time.NewTimer(m.cfg.EstablishTimeout)
	defer timer.Stop()
	select {
	case <-h.established:
		// terminal work is the coordinator's: the handle stays around
		// until the pair leaves or the server shuts down
	case <-h.closed:
	case <-timer.C:
		m.fail(h, logCtx, fmt.Errorf("%w: ice did not complete", ErrNegotiationTimeout))
	}
}

func (m *Manager) fail(h *Handle, logCtx *logrus.Entry, err error) {
	h.close(StateFailed)
	m.mu.Lock()
	delete(m.handles, pairKey(h.InitiatorID, h.TargetID))
	m.mu.Unlock()

	logCtx.WithError(err).Warn("Negotiation failed")
	if m.onFailure != nil {
		m.onFailure(h.InitiatorID, h.TargetID, err)
	}
}
