package negotiation_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-sync/internal/negotiation"
)

type fakeSender struct {
	mu      sync.Mutex
	offers  int
	answers int
}

func (s *fakeSender) SendOffer(_, _ string, _ webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers++
	return nil
}

func (s *fakeSender) SendAnswer(_, _ string, _ webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers++
	return nil
}

func (s *fakeSender) offerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers
}

func (s *fakeSender) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers
}

func testConfig() negotiation.Config {
	return negotiation.Config{
		OfferTimeout:     30 * time.Millisecond,
		EstablishTimeout: 100 * time.Millisecond,
		Backoff:          5 * time.Millisecond,
		MaxRetries:       2,
	}
}

var testOffer = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
var testAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}

func TestManager_HappyPath(t *testing.T) {
	sender := &fakeSender{}
	m := negotiation.NewManager(testConfig(), sender, nil)
	defer m.Close()

	h, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sender.offerCount() >= 1
	}, time.Second, time.Millisecond, "offer should reach the target")

	require.NoError(t, m.ReceiveAnswer("alice", "bob", testAnswer))
	assert.Equal(t, 1, sender.answerCount())
	assert.Equal(t, negotiation.StateAnswerReceived, h.State())

	require.NoError(t, m.ICEComplete("alice", "bob"))
	assert.Equal(t, negotiation.StateEstablished, h.State())
}

func TestManager_RetriesThenFails(t *testing.T) {
	sender := &fakeSender{}
	var (
		mu         sync.Mutex
		failedPair [2]string
		failures   int
	)
	m := negotiation.NewManager(testConfig(), sender, func(initiatorID, targetID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedPair = [2]string{initiatorID, targetID}
		failures++
	})
	defer m.Close()

	h, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never reached a terminal state")
	}

	assert.Equal(t, negotiation.StateFailed, h.State())
	// Initial attempt plus MaxRetries re-sends.
	assert.Equal(t, 3, sender.offerCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, failures)
	assert.Equal(t, [2]string{"alice", "bob"}, failedPair)
}

func TestManager_EstablishTimeoutAfterAnswer(t *testing.T) {
	sender := &fakeSender{}
	var (
		mu       sync.Mutex
		failures int
	)
	m := negotiation.NewManager(testConfig(), sender, func(_, _ string, _ error) {
		mu.Lock()
		defer mu.Unlock()
		failures++
	})
	defer m.Close()

	h, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.State() == negotiation.StateOfferSent
	}, time.Second, time.Millisecond)

	require.NoError(t, m.ReceiveAnswer("alice", "bob", testAnswer))

	// ICE never completes; the pair must fail within EstablishTimeout.
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never reached a terminal state")
	}
	assert.Equal(t, negotiation.StateFailed, h.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, failures)
}

func TestManager_Initiate_RejectsConcurrentPair(t *testing.T) {
	sender := &fakeSender{}
	m := negotiation.NewManager(testConfig(), sender, nil)
	defer m.Close()

	_, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)

	_, err = m.Initiate("alice", "bob", testOffer)
	assert.ErrorIs(t, err, negotiation.ErrInvalidTransition)
}

func TestManager_Initiate_ReplacesTerminalHandle(t *testing.T) {
	sender := &fakeSender{}
	m := negotiation.NewManager(testConfig(), sender, nil)
	defer m.Close()

	first, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)
	m.ParticipantLeft("bob")
	require.Equal(t, negotiation.StateClosed, first.State())

	second, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestManager_ReceiveAnswer_UnknownPair(t *testing.T) {
	sender := &fakeSender{}
	m := negotiation.NewManager(testConfig(), sender, nil)
	defer m.Close()

	err := m.ReceiveAnswer("alice", "bob", testAnswer)
	assert.ErrorIs(t, err, negotiation.ErrUnknownHandle)
}

func TestManager_ICEComplete_RequiresAnswerFirst(t *testing.T) {
	sender := &fakeSender{}
	m := negotiation.NewManager(testConfig(), sender, nil)
	defer m.Close()

	_, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)

	err = m.ICEComplete("alice", "bob")
	assert.ErrorIs(t, err, negotiation.ErrInvalidTransition)
}

func TestManager_ParticipantLeft_ClosesWithoutFailureReport(t *testing.T) {
	sender := &fakeSender{}
	var (
		mu       sync.Mutex
		failures int
	)
	m := negotiation.NewManager(testConfig(), sender, func(_, _ string, _ error) {
		mu.Lock()
		defer mu.Unlock()
		failures++
	})
	defer m.Close()

	h, err := m.Initiate("alice", "bob", testOffer)
	require.NoError(t, err)

	m.ParticipantLeft("alice")

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle not closed after participant left")
	}
	assert.Equal(t, negotiation.StateClosed, h.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, failures, "a departure is not a negotiation failure")
}
