package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/eventlog"
	"meeting-sync/internal/negotiation"
	"meeting-sync/internal/registry"
	"meeting-sync/internal/repository"
)

// Subscriber is one participant's outbound signaling channel. Deliver
// must be non-blocking (buffered); a false return means the buffer is
// full and the frame was dropped, and the client recovers via catch-up.
// Implemented by hub.Client.
type Subscriber interface {
	ParticipantID() string
	Deliver(msg []byte) bool
}

// ioTimeout bounds the actor's commit store round-trips. Log append has
// no client-facing timeout (it succeeds or is rejected synchronously);
// this only keeps a dead Redis from wedging the actor forever.
const ioTimeout = 5 * time.Second

type reqKind int

const (
	reqJoin reqKind = iota
	reqLeave
	reqDisconnect
	reqSubmit
	reqPresence
	reqSystemPresence
	reqCatchup
	reqView
	reqCompact
)

type request struct {
	kind          reqKind
	participantID string
	displayName   string
	eventKind     domain.EventKind
	payload       json.RawMessage
	flags         domain.MediaFlags
	sub           Subscriber
	seq           uint64 // join/catchup: last applied; compact: target base
	reply         chan response
}

type response struct {
	seq  uint64
	head uint64
	view *domain.SessionView
	err  error
}

// Session is one meeting's coordinator: the single serialization point
// for its event log, registry and derived views. All mutating
// operations funnel through a FIFO request channel consumed by one
// goroutine, so appends never race and slow clients cannot starve the
// queue out of order.
type Session struct {
	id  string
	cfg Config

	log        *eventlog.Log
	registry   *registry.Registry
	resolver   *Resolver
	view       *domain.SessionView
	negotiator *negotiation.Manager

	requests chan request

	subsMu sync.RWMutex
	subs   map[string]Subscriber

	degraded bool

	closed    chan struct{}
	closeOnce sync.Once
	onClosed  func(sessionID string)
	onExpired func(sessionID string)

	logCtx *logrus.Entry
}

func newSession(ctx context.Context, id string, cfg Config, deps Deps, onClosed func(string)) (*Session, error) {
	lg, err := eventlog.New(ctx, id, deps.Store, deps.Archive)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		log:       lg,
		registry:  registry.New(id, cfg.Grace),
		resolver:  NewResolver(id),
		requests:  make(chan request, cfg.RequestBuffer),
		subs:      make(map[string]Subscriber),
		closed:    make(chan struct{}),
		onClosed:  onClosed,
		onExpired: deps.OnExpired,
		logCtx:    logrus.WithFields(logrus.Fields{"component": "coordinator", "session_id": id}),
	}
	s.negotiator = negotiation.NewManager(cfg.Negotiation, sessionSender{s}, s.reportMediaFailure)

	if err := s.restore(ctx, deps); err != nil {
		return nil, err
	}

	go s.run()
	return s, nil
}

// restore rebuilds the derived view: latest persisted snapshot (if the
// log has been compacted) plus a fold of the commit store tail. Any
// late joiner replaying the same prefix reconstructs the same view.
func (s *Session) restore(ctx context.Context, deps Deps) error {
	s.view = domain.NewSessionView()

	base, err := s.log.BaseSeq(ctx)
	if err != nil {
		return err
	}
	if base > 0 && deps.Snapshots != nil {
		snap, err := deps.Snapshots.Latest(ctx, s.id)
		switch {
		case err == nil:
			view, parseErr := snap.ParseState()
			if parseErr != nil {
				return fmt.Errorf("coordinator: corrupt snapshot for session %s: %w", s.id, parseErr)
			}
			s.view = view
		case errors.Is(err, repository.ErrNotFound):
			s.logCtx.WithField("base_seq", base).Warn("Log compacted but no snapshot found, view starts past the base")
			s.view.Seq = base
		default:
			return fmt.Errorf("coordinator: failed to load snapshot for session %s: %w", s.id, err)
		}
	}

	tail, err := s.log.ReadFrom(ctx, s.view.Seq+1)
	if err != nil {
		return err
	}
	for _, ev := range tail {
		if err := s.resolver.Apply(s.view, ev); err != nil {
			return fmt.Errorf("coordinator: replay failed for session %s: %w", s.id, err)
		}
	}
	if len(tail) > 0 {
		s.logCtx.WithFields(logrus.Fields{"replayed": len(tail), "head": s.view.Seq}).Info("Session state restored from log")
	}
	return nil
}

func (s *Session) run() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-s.requests:
			s.handle(req)
		case now := <-ticker.C:
			if s.sweep(now) {
				s.shutdown()
				return
			}
		case <-s.closed:
			s.negotiator.Close()
			return
		}
	}
}

// shutdown is the self-destruction path: the session stayed empty past
// the grace period. Unlike Close it also reports the expiry, which is
// what tears down the session's volatile state.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.negotiator.Close()
	if s.onClosed != nil {
		s.onClosed(s.id)
	}
	if s.onExpired != nil {
		s.onExpired(s.id)
	}
	s.logCtx.Info("Session expired and closed")
}

// Close stops the actor. Pending and future requests fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	if s.onClosed != nil {
		s.onClosed(s.id)
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) enqueue(ctx context.Context, req request) response {
	req.reply = make(chan response, 1)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return response{err: ctx.Err()}
	case <-s.closed:
		return response{err: ErrSessionClosed}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return response{err: ctx.Err()}
	case <-s.closed:
		return response{err: ErrSessionClosed}
	}
}

// Join admits a participant (or resumes one inside the reconnect grace
// period), announces it through the log, attaches the subscriber and
// serves catch-up from lastSeq.
func (s *Session) Join(ctx context.Context, participantID, displayName string, sub Subscriber, lastSeq uint64) (uint64, error) {
	resp := s.enqueue(ctx, request{
		kind:          reqJoin,
		participantID: participantID,
		displayName:   displayName,
		sub:           sub,
		seq:           lastSeq,
	})
	return resp.seq, resp.err
}

// Leave removes the participant deliberately (as opposed to a dropped
// connection) and announces it.
func (s *Session) Leave(ctx context.Context, participantID string) error {
	resp := s.enqueue(ctx, request{kind: reqLeave, participantID: participantID})
	return resp.err
}

// Disconnect records a dropped connection: the participant enters the
// reconnect grace period, its subscriber is detached and its in-flight
// negotiation handles are cancelled.
func (s *Session) Disconnect(ctx context.Context, participantID string) error {
	resp := s.enqueue(ctx, request{kind: reqDisconnect, participantID: participantID})
	return resp.err
}

// Submit proposes an event. On acceptance it is appended, folded into
// the views and broadcast to every other Joined member; the assigned
// sequence number is returned. Rejections (ErrNotAMember,
// ErrPayloadTooLarge, eventlog.ErrLogWriteFailure) leave no log entry.
func (s *Session) Submit(ctx context.Context, participantID string, kind domain.EventKind, payload json.RawMessage) (uint64, error) {
	resp := s.enqueue(ctx, request{
		kind:          reqSubmit,
		participantID: participantID,
		eventKind:     kind,
		payload:       payload,
	})
	return resp.seq, resp.err
}

// UpdatePresence changes the participant's media flags through the log
// so the change is observable by every member.
func (s *Session) UpdatePresence(ctx context.Context, participantID string, flags domain.MediaFlags) (uint64, error) {
	resp := s.enqueue(ctx, request{kind: reqPresence, participantID: participantID, flags: flags})
	return resp.seq, resp.err
}

// RequestCatchup re-serves events (or a compacted snapshot) to an
// attached participant from lastSeq.
func (s *Session) RequestCatchup(ctx context.Context, participantID string, lastSeq uint64) error {
	resp := s.enqueue(ctx, request{kind: reqCatchup, participantID: participantID, seq: lastSeq})
	return resp.err
}

// View returns a deep copy of the current derived views along with the
// log head. Used by the snapshot worker.
func (s *Session) View(ctx context.Context) (*domain.SessionView, uint64, error) {
	resp := s.enqueue(ctx, request{kind: reqView})
	return resp.view, resp.head, resp.err
}

// Compact trims the log through seq once a snapshot at that position
// has been persisted.
func (s *Session) Compact(ctx context.Context, seq uint64) error {
	resp := s.enqueue(ctx, request{kind: reqCompact, seq: seq})
	return resp.err
}

// Head returns the last acknowledged sequence number.
func (s *Session) Head(ctx context.Context) (uint64, error) {
	resp := s.enqueue(ctx, request{kind: reqView})
	return resp.head, resp.err
}

// handle processes one request inside the actor goroutine.
func (s *Session) handle(req request) {
	var resp response
	switch req.kind {
	case reqJoin:
		resp = s.handleJoin(req)
	case reqLeave:
		resp = s.handleLeave(req.participantID, domain.PresenceLeft)
	case reqDisconnect:
		resp = s.handleDisconnect(req)
	case reqSubmit:
		resp = s.handleSubmit(req)
	case reqPresence:
		resp = s.handlePresence(req)
	case reqSystemPresence:
		resp = s.handleSystemPresence(req)
	case reqCatchup:
		resp = s.handleCatchup(req)
	case reqView:
		resp = response{view: s.view.Clone(), head: s.log.Head()}
	case reqCompact:
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		resp = response{err: s.log.TrimThrough(ctx, req.seq)}
		cancel()
	}
	if req.reply != nil {
		req.reply <- resp
	}
}

func (s *Session) handleJoin(req request) response {
	prior, resumed := s.registry.Get(req.participantID)
	var priorState domain.ConnState
	if resumed {
		priorState = prior.State
	}

	p, err := s.registry.Join(req.participantID, req.displayName)
	if err != nil {
		return response{err: err}
	}

	seq, err := s.appendPresence(req.participantID, domain.PresencePayload{
		Change:      domain.PresenceJoined,
		DisplayName: p.DisplayName,
		Flags:       p.Flags,
		At:          time.Now().UTC(),
	})
	if err != nil {
		// Membership without an announcement would be invisible to the
		// other members; undo the join. A resumed record goes back to
		// its grace window rather than being dropped.
		if resumed {
			s.registry.Restore(req.participantID, priorState)
		} else {
			s.registry.Drop(req.participantID)
		}
		return response{err: err}
	}

	if req.sub != nil {
		s.attach(req.sub)
		s.sendCatchup(req.sub, req.seq)
	}
	return response{seq: seq}
}

func (s *Session) handleLeave(participantID string, change domain.PresenceChangeKind) response {
	p, err := s.registry.Leave(participantID)
	if err != nil {
		return response{err: mapRegistryErr(err)}
	}
	s.detach(participantID)
	s.negotiator.ParticipantLeft(participantID)

	seq, err := s.appendPresence(participantID, domain.PresencePayload{
		Change:      change,
		DisplayName: p.DisplayName,
		At:          time.Now().UTC(),
	})
	return response{seq: seq, err: err}
}

func (s *Session) handleDisconnect(req request) response {
	p, err := s.registry.MarkReconnecting(req.participantID)
	if err != nil {
		return response{err: mapRegistryErr(err)}
	}
	s.detach(req.participantID)
	if p.State != domain.StateReconnecting {
		// The participant already left deliberately; the socket
		// closing afterwards is not news.
		return response{}
	}
	// Dropped connections cancel negotiation but never touch the log
	// entries already appended.
	s.negotiator.ParticipantLeft(req.participantID)

	seq, err := s.appendPresence(req.participantID, domain.PresencePayload{
		Change:      domain.PresenceReconnecting,
		DisplayName: p.DisplayName,
		Flags:       p.Flags,
		At:          time.Now().UTC(),
	})
	return response{seq: seq, err: err}
}

func (s *Session) handleSubmit(req request) response {
	if !s.registry.IsJoined(req.participantID) {
		return response{err: ErrNotAMember}
	}
	if len(req.payload) > s.cfg.MaxPayload {
		return response{err: ErrPayloadTooLarge}
	}

	ev := domain.Event{
		ParticipantID: req.participantID,
		Kind:          req.eventKind,
		Payload:       string(req.payload),
		Timestamp:     time.Now().UTC(),
	}
	if err := validateSubmission(&ev); err != nil {
		return response{err: err}
	}

	seq, err := s.append(&ev)
	if err != nil {
		return response{err: err}
	}
	s.registry.Touch(req.participantID)
	s.applyAndBroadcast(ev, req.participantID)
	return response{seq: seq}
}

func (s *Session) handlePresence(req request) response {
	p, err := s.registry.UpdatePresence(req.participantID, req.flags)
	if err != nil {
		return response{err: mapRegistryErr(err)}
	}
	seq, err := s.appendPresence(req.participantID, domain.PresencePayload{
		Change:      domain.PresenceMediaUpdate,
		DisplayName: p.DisplayName,
		Flags:       req.flags,
		At:          time.Now().UTC(),
	})
	return response{seq: seq, err: err}
}

// handleSystemPresence records a negotiation failure as a media
// unavailability announcement for the affected participant. The
// failure degrades only that pair's media path; the session goes on.
func (s *Session) handleSystemPresence(req request) response {
	p, ok := s.registry.Get(req.participantID)
	if !ok {
		return response{} // departed while the handshake was failing
	}
	flags := domain.MediaFlags{}
	if _, err := s.registry.UpdatePresence(req.participantID, flags); err != nil {
		return response{err: mapRegistryErr(err)}
	}
	seq, err := s.appendPresence(req.participantID, domain.PresencePayload{
		Change:      domain.PresenceMediaUnavailable,
		DisplayName: p.DisplayName,
		Flags:       flags,
		At:          time.Now().UTC(),
	})
	return response{seq: seq, err: err}
}

func (s *Session) handleCatchup(req request) response {
	s.subsMu.RLock()
	sub, ok := s.subs[req.participantID]
	s.subsMu.RUnlock()
	if !ok {
		return response{err: ErrNotAMember}
	}
	s.sendCatchup(sub, req.seq)
	return response{head: s.log.Head()}
}

// appendPresence builds, appends, applies and broadcasts one presence
// event. Presence events are broadcast to everyone including the
// subject, so a client's own flag change is confirmed by the log.
func (s *Session) appendPresence(participantID string, payload domain.PresencePayload) (uint64, error) {
	ev := domain.Event{
		ParticipantID: participantID,
		Kind:          domain.KindPresence,
		Timestamp:     time.Now().UTC(),
	}
	if err := ev.SetPayload(payload); err != nil {
		return 0, err
	}
	seq, err := s.append(&ev)
	if err != nil {
		return 0, err
	}
	s.applyAndBroadcast(ev, "")
	return seq, nil
}

// append commits one event with bounded retries. When every retry is
// exhausted the session is marked degraded and every member notified;
// the degraded flag clears on the next successful append. The failed
// append itself is never silently dropped; the caller gets
// eventlog.ErrLogWriteFailure.
func (s *Session) append(ev *domain.Event) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()

	var seq uint64
	var err error
	for attempt := 0; attempt <= s.cfg.AppendRetries; attempt++ {
		seq, err = s.log.Append(ctx, ev)
		if err == nil {
			if s.degraded {
				s.degraded = false
				s.logCtx.Info("Log writes recovered, session no longer degraded")
			}
			return seq, nil
		}
		if attempt < s.cfg.AppendRetries {
			time.Sleep(s.cfg.AppendRetryDelay)
		}
	}

	if !s.degraded {
		s.degraded = true
		s.logCtx.WithError(err).Error("Append retries exhausted, marking session degraded")
		s.broadcast(ServerMessage{
			Type:    ServerDegraded,
			Message: "event log writes are failing; recent submissions may be rejected",
		}, "")
	}
	return 0, err
}

func (s *Session) applyAndBroadcast(ev domain.Event, excludeID string) {
	if err := s.resolver.Apply(s.view, ev); err != nil {
		// The event is committed; a fold failure here means a payload
		// validation gap, not a recoverable condition for the sender.
		s.logCtx.WithError(err).WithField("seq", ev.Seq).Error("Failed to fold committed event into view")
	}
	rec := recordOf(ev)
	s.broadcast(ServerMessage{Type: ServerEvent, Event: &rec}, excludeID)
}

func (s *Session) broadcast(msg ServerMessage, excludeID string) {
	bytes, err := json.Marshal(msg)
	if err != nil {
		s.logCtx.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	s.subsMu.RLock()
	targets := make([]Subscriber, 0, len(s.subs))
	for id, sub := range s.subs {
		if id != excludeID {
			targets = append(targets, sub)
		}
	}
	s.subsMu.RUnlock()

	for _, sub := range targets {
		if !sub.Deliver(bytes) {
			s.logCtx.WithField("participant_id", sub.ParticipantID()).Warn("Subscriber buffer full, frame dropped")
		}
	}
}

// sendCatchup serves a consistent prefix to one subscriber. Inside the
// actor no new events can interleave, so the replayed prefix plus every
// broadcast delivered afterwards is exactly the log order. Participants
// more than SnapshotLag events behind (or behind the compaction point)
// get the folded state instead of an incremental replay, bounding
// catch-up cost by snapshot size rather than log length.
func (s *Session) sendCatchup(sub Subscriber, lastSeq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()

	head := s.log.Head()
	base, err := s.log.BaseSeq(ctx)
	if err != nil {
		s.logCtx.WithError(err).Warn("Catch-up: failed to read compaction point, serving snapshot")
		base = head // force the snapshot path
	}

	var msg ServerMessage
	if lastSeq < base || head-lastSeq > s.cfg.SnapshotLag {
		msg = ServerMessage{Type: ServerSnapshot, BaseSeq: s.view.Seq, State: s.view.Clone()}
	} else {
		events, err := s.log.ReadFrom(ctx, lastSeq+1)
		if err != nil {
			s.logCtx.WithError(err).Warn("Catch-up: replay read failed, serving snapshot")
			msg = ServerMessage{Type: ServerSnapshot, BaseSeq: s.view.Seq, State: s.view.Clone()}
		} else {
			msg = ServerMessage{
				Type:    ServerSnapshot,
				BaseSeq: lastSeq,
				Events:  lo.Map(events, func(ev domain.Event, _ int) EventRecord { return recordOf(ev) }),
			}
		}
	}

	bytes, err := json.Marshal(msg)
	if err != nil {
		s.logCtx.WithError(err).Error("Failed to marshal catch-up message")
		return
	}
	if !sub.Deliver(bytes) {
		s.logCtx.WithField("participant_id", sub.ParticipantID()).Warn("Catch-up dropped, subscriber buffer full")
	}
}

func (s *Session) attach(sub Subscriber) {
	s.subsMu.Lock()
	s.subs[sub.ParticipantID()] = sub
	s.subsMu.Unlock()
}

func (s *Session) detach(participantID string) {
	s.subsMu.Lock()
	delete(s.subs, participantID)
	s.subsMu.Unlock()
}

// sweep runs inside the actor: expired reconnect windows become Left
// announcements, and a session empty beyond the grace period reports
// itself ready for destruction.
func (s *Session) sweep(now time.Time) (done bool) {
	evicted, expired := s.registry.Sweep(now)
	for _, p := range evicted {
		s.negotiator.ParticipantLeft(p.ID)
		s.detach(p.ID)
		if p.State == domain.StateReconnecting {
			// The leave announcement for an explicit Leave was already
			// appended; an expired reconnect window gets one now.
			if _, err := s.appendPresence(p.ID, domain.PresencePayload{
				Change:      domain.PresenceLeft,
				DisplayName: p.DisplayName,
				At:          now.UTC(),
			}); err != nil {
				s.logCtx.WithError(err).WithField("participant_id", p.ID).Warn("Failed to announce eviction")
			}
		}
	}
	return expired
}

// reportMediaFailure is the negotiation manager's failure callback. It
// must never block a negotiation goroutine on the actor, so the
// announcement is enqueued best-effort.
func (s *Session) reportMediaFailure(initiatorID, targetID string, err error) {
	s.logCtx.WithError(err).WithFields(logrus.Fields{
		"initiator_id": initiatorID,
		"target_id":    targetID,
	}).Warn("Media negotiation failed, announcing unavailability")

	select {
	case s.requests <- request{kind: reqSystemPresence, participantID: targetID}:
	case <-s.closed:
	default:
		s.logCtx.Warn("Request queue full, media failure announcement dropped")
	}
}

// HandleClientMessage decodes and dispatches one inbound signaling
// frame. Submit/presence/catch-up requests serialize through the
// actor; negotiation frames go straight to the per-pair state
// machines, which never hold the serialization point. Results and
// rejections are delivered back on the sender's own channel.
func (s *Session) HandleClientMessage(ctx context.Context, participantID string, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.deliverError(participantID, "bad_message", "malformed message")
		return
	}

	switch msg.Type {
	case ClientSubmit:
		seq, err := s.Submit(ctx, participantID, msg.Kind, msg.Payload)
		if err != nil {
			s.deliverSubmitError(participantID, err)
			return
		}
		s.deliverTo(participantID, ServerMessage{Type: ServerAck, Seq: seq})

	case ClientPresence:
		if msg.Flags == nil {
			s.deliverError(participantID, "bad_message", "presence requires flags")
			return
		}
		seq, err := s.UpdatePresence(ctx, participantID, *msg.Flags)
		if err != nil {
			s.deliverSubmitError(participantID, err)
			return
		}
		s.deliverTo(participantID, ServerMessage{Type: ServerAck, Seq: seq})

	case ClientOffer:
		if msg.SDP == nil || msg.Peer == "" {
			s.deliverError(participantID, "bad_message", "offer requires peer and sdp")
			return
		}
		if _, err := s.negotiator.Initiate(participantID, msg.Peer, *msg.SDP); err != nil {
			s.deliverError(participantID, "negotiation_failed", err.Error())
		}

	case ClientAnswer:
		if msg.SDP == nil || msg.Peer == "" {
			s.deliverError(participantID, "bad_message", "answer requires peer and sdp")
			return
		}
		if err := s.negotiator.ReceiveAnswer(msg.Peer, participantID, *msg.SDP); err != nil {
			s.deliverError(participantID, "negotiation_failed", err.Error())
		}

	case ClientICEComplete:
		if msg.Peer == "" {
			s.deliverError(participantID, "bad_message", "ice_complete requires peer")
			return
		}
		if err := s.negotiator.ICEComplete(participantID, msg.Peer); err != nil {
			s.deliverError(participantID, "negotiation_failed", err.Error())
		}

	case ClientCatchup:
		if err := s.RequestCatchup(ctx, participantID, msg.From); err != nil {
			s.deliverSubmitError(participantID, err)
		}

	case ClientLeave:
		if err := s.Leave(ctx, participantID); err != nil {
			s.deliverSubmitError(participantID, err)
		}

	default:
		s.deliverError(participantID, "bad_message", fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Session) deliverSubmitError(participantID string, err error) {
	switch {
	case errors.Is(err, ErrNotAMember):
		s.deliverError(participantID, "not_a_member", err.Error())
	case errors.Is(err, ErrPayloadTooLarge):
		s.deliverError(participantID, "payload_too_large", err.Error())
	case errors.Is(err, ErrUnknownEventKind):
		s.deliverError(participantID, "bad_message", err.Error())
	case errors.Is(err, eventlog.ErrLogWriteFailure):
		s.deliverError(participantID, "log_write_failure", "event could not be committed")
	case errors.Is(err, registry.ErrUnknownParticipant):
		s.deliverError(participantID, "not_a_member", err.Error())
	default:
		s.deliverError(participantID, "internal", "internal error")
	}
}

func (s *Session) deliverError(participantID, code, message string) {
	s.deliverTo(participantID, ServerMessage{Type: ServerError, Code: code, Message: message})
}

func (s *Session) deliverTo(participantID string, msg ServerMessage) {
	s.subsMu.RLock()
	sub, ok := s.subs[participantID]
	s.subsMu.RUnlock()
	if !ok {
		return
	}
	bytes, err := json.Marshal(msg)
	if err != nil {
		s.logCtx.WithError(err).Error("Failed to marshal direct message")
		return
	}
	if !sub.Deliver(bytes) {
		s.logCtx.WithField("participant_id", participantID).Warn("Direct message dropped, subscriber buffer full")
	}
}

// sessionSender adapts a session's subscriber table to the negotiation
// Sender: SDP frames ride the same per-participant channel as deltas.
type sessionSender struct{ s *Session }

func (ss sessionSender) SendOffer(targetID, initiatorID string, offer webrtc.SessionDescription) error {
	ss.s.deliverTo(targetID, ServerMessage{Type: ServerOffer, Peer: initiatorID, SDP: &offer})
	return nil
}

func (ss sessionSender) SendAnswer(initiatorID, targetID string, answer webrtc.SessionDescription) error {
	ss.s.deliverTo(initiatorID, ServerMessage{Type: ServerAnswer, Peer: targetID, SDP: &answer})
	return nil
}

// validateSubmission rejects kinds clients may not submit directly and
// payloads that do not decode as their kind, before anything reaches
// the log.
func validateSubmission(ev *domain.Event) error {
	switch ev.Kind {
	case domain.KindChat:
		_, err := ev.ParseChat()
		return err
	case domain.KindFileAnnounce:
		_, err := ev.ParseFile()
		return err
	case domain.KindStroke:
		_, err := ev.ParseStroke()
		return err
	case domain.KindPresence:
		// Presence flows through UpdatePresence so the registry and the
		// log can never disagree.
		return fmt.Errorf("%w: presence must use the presence operation", ErrUnknownEventKind)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
}

func mapRegistryErr(err error) error {
	if errors.Is(err, registry.ErrUnknownParticipant) {
		return ErrNotAMember
	}
	return err
}
