package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"palaver/models"
)

// Synchronizer keeps the local view of the open conversation consistent
// against the history fetch and the shared live channel. It owns the
// per-conversation components and is the only type the UI calls into.
//
// Every mutation, whether from a channel event, a timer or a UI call,
// passes through mu, so callbacks observe state in arrival order and the
// store needs no locking of its own.
type Synchronizer struct {
	user    string
	channel EventChannel
	rest    HistoryService

	mu        sync.Mutex
	peer      string
	store     *MessageStore
	receipts  *ReceiptStateMachine
	reactions *ReactionAggregator
	typing    *TypingSignal
	presence  *PresenceTracker

	loadGen    int // bumped on every switch; stale fetch results are discarded
	loading    bool
	loadCancel context.CancelFunc
	lastErr    error

	// OnUpdate fires after any state change the UI should repaint for.
	// OnTyping fires on remote typing indicator transitions for the open
	// conversation. OnError surfaces recoverable failures. All optional;
	// set them before Start.
	OnUpdate func()
	OnTyping func(active bool)
	OnError  func(err error)
}

// New wires a synchronizer for the given local user over an injected
// channel and history service.
func New(user string, channel EventChannel, rest HistoryService) *Synchronizer {
	s := &Synchronizer{
		user:     user,
		channel:  channel,
		rest:     rest,
		store:    NewMessageStore(),
		presence: NewPresenceTracker(),
	}
	s.receipts = NewReceiptStateMachine(s.store)
	s.reactions = NewReactionAggregator(s.store, channel.Send)
	s.typing = NewTypingSignal(s.remoteTypingChanged)

	channel.OnEvent(models.EventOnlineUsers, s.handleOnlineUsers)
	channel.OnEvent(models.EventReceiveMessage, s.handleReceiveMessage)
	channel.OnEvent(models.EventTyping, s.handleTyping)
	channel.OnEvent(models.EventMessagesSeen, s.handleMessagesSeen)
	channel.OnEvent(models.EventReactionUpdated, s.handleReactionUpdated)
	channel.OnEvent(models.EventMessageDeleted, s.handleMessageDeleted)
	channel.OnEvent(models.EventMessageUpdated, s.handleMessageUpdated)

	return s
}

// Start connects the channel, announces presence and seeds the presence
// tracker from the user list.
func (s *Synchronizer) Start(ctx context.Context) error {
	if err := s.channel.Connect(s.user); err != nil {
		return err
	}
	users, err := s.rest.Users(ctx)
	if err != nil {
		return err
	}
	s.presence.Seed(users)
	return nil
}

// Close tears down the channel.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.loadCancel != nil {
		s.loadCancel()
	}
	s.mu.Unlock()
	s.typing.Reset()
	s.channel.Disconnect()
}

// Select switches the open conversation. The previous log is discarded,
// any in-flight history fetch loses interest, and the new history loads
// asynchronously. Presence and the channel are untouched.
func (s *Synchronizer) Select(ctx context.Context, peer string) {
	s.mu.Lock()
	s.peer = peer
	s.store = NewMessageStore()
	s.receipts = NewReceiptStateMachine(s.store)
	s.reactions = NewReactionAggregator(s.store, s.channel.Send)
	gen, loadCtx := s.beginFetchLocked(ctx)
	s.mu.Unlock()

	s.typing.Reset()
	s.notify()

	go s.load(loadCtx, gen, peer)
}

// Retry re-runs the history fetch for the open conversation after a
// transient failure. The current log stays in place; it is replaced
// only once the fetch succeeds.
func (s *Synchronizer) Retry(ctx context.Context) {
	s.mu.Lock()
	peer := s.peer
	if peer == "" {
		s.mu.Unlock()
		return
	}
	gen, loadCtx := s.beginFetchLocked(ctx)
	s.mu.Unlock()

	s.notify()

	go s.load(loadCtx, gen, peer)
}

// beginFetchLocked cancels any in-flight fetch and arms a new one.
// The caller holds mu.
func (s *Synchronizer) beginFetchLocked(ctx context.Context) (int, context.Context) {
	if s.loadCancel != nil {
		s.loadCancel()
	}
	s.loadGen++
	s.loading = true
	s.lastErr = nil
	loadCtx, cancel := context.WithCancel(ctx)
	s.loadCancel = cancel
	return s.loadGen, loadCtx
}

// Reconnect re-dials the channel, re-announces presence and re-fetches
// the open conversation's history. Missed events are never assumed to
// replay.
func (s *Synchronizer) Reconnect(ctx context.Context) error {
	if err := s.channel.Reconnect(); err != nil {
		return err
	}
	s.Retry(ctx)
	return nil
}

func (s *Synchronizer) load(ctx context.Context, gen int, peer string) {
	messages, err := s.rest.Load(ctx, s.user, peer)

	s.mu.Lock()
	if gen != s.loadGen {
		// Interest moved on while the fetch was in flight; the
		// response belongs to a conversation that is no longer open.
		s.mu.Unlock()
		return
	}
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.fail(err)
		s.notify()
		return
	}

	s.store.Seed(messages)

	// Batch read receipt: one mark_seen covers every unread message
	// addressed to us in this conversation.
	unread := 0
	for _, m := range messages {
		if m.Receiver == s.user && m.Status != models.StatusRead {
			s.store.SetStatus(m.ID, models.StatusRead)
			unread++
		}
	}
	s.mu.Unlock()

	if unread > 0 {
		s.markSeen(peer)
	}
	s.notify()
}

// SendMessage inserts an optimistic entry and fires send_message. The
// returned id is the local placeholder; the server echo promotes it.
func (s *Synchronizer) SendMessage(content string) (string, error) {
	s.mu.Lock()
	peer := s.peer
	if peer == "" {
		s.mu.Unlock()
		return "", &ServerRejection{Op: "send message", Status: 0, Message: "no conversation selected"}
	}
	draft := models.Message{
		Sender:    s.user,
		Receiver:  peer,
		Content:   content,
		Timestamp: time.Now(),
	}
	localID := s.store.InsertOptimistic(draft)
	s.mu.Unlock()

	err := s.channel.Send(models.EventSendMessage, models.SendMessagePayload{
		Sender:    draft.Sender,
		Receiver:  draft.Receiver,
		Content:   draft.Content,
		Timestamp: draft.Timestamp,
	})
	s.notify()
	return localID, err
}

// Typing records a local keystroke, emitting at most one typing pulse
// per quiet interval.
func (s *Synchronizer) Typing() {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == "" {
		return
	}
	if s.typing.Keystroke(time.Now()) {
		if err := s.channel.Send(models.EventTyping, models.TypingPayload{Sender: s.user, Receiver: peer}); err != nil {
			log.Printf("typing pulse dropped: %v", err)
		}
	}
}

// ToggleReaction flips the local user's reaction on a message. The log
// updates when the server echoes the authoritative set.
func (s *Synchronizer) ToggleReaction(messageID, reaction string) error {
	return s.reactions.Toggle(messageID, s.user, reaction)
}

// DeleteMessage removes a message server-side and drops it from the log.
func (s *Synchronizer) DeleteMessage(ctx context.Context, id string) error {
	if err := s.rest.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.store.MarkDeleted(id)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Messages returns a snapshot of the open conversation's log.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Messages()
}

// Peer returns the selected counterpart, or "" when none is open.
func (s *Synchronizer) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Loading reports whether a history fetch for the open conversation is
// still pending.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError returns the most recent history fetch failure for the open
// conversation, if any.
func (s *Synchronizer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RemoteTyping reports whether the open counterpart is composing.
func (s *Synchronizer) RemoteTyping() bool {
	return s.typing.Active()
}

// Presence exposes the channel-wide presence tracker.
func (s *Synchronizer) Presence() *PresenceTracker {
	return s.presence
}

// Event handlers. Each runs on the channel's single dispatch goroutine.

func (s *Synchronizer) handleOnlineUsers(data json.RawMessage) {
	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return
	}
	s.presence.SetOnline(users)
	s.notify()
}

func (s *Synchronizer) handleReceiveMessage(data json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}

	// Acknowledge delivery of anything addressed to us, whichever
	// conversation it belongs to.
	if m.Receiver == s.user {
		if err := s.channel.Send(models.EventAckDelivered, models.MessageRef{MessageID: m.ID}); err != nil {
			log.Printf("delivery ack dropped for %s: %v", m.ID, err)
		}
	}

	s.mu.Lock()
	peer := s.peer
	open := peer != "" && m.InConversation(s.user, peer)
	if open {
		s.store.UpsertFromServer(m)
		if m.Receiver == s.user {
			s.store.SetStatus(m.ID, models.StatusRead)
		}
	}
	s.mu.Unlock()

	if !open {
		// The log is re-seeded from history on switch, so nothing to
		// retain here; a foreign-thread event must not touch the UI.
		return
	}

	if m.Receiver == s.user {
		// Conversation is on screen, so the message is read on arrival.
		s.markSeen(peer)
	}
	s.notify()
}

func (s *Synchronizer) handleTyping(data json.RawMessage) {
	var p models.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.mu.Lock()
	selected := p.Sender != "" && p.Sender == s.peer
	s.mu.Unlock()
	if !selected {
		// Pulses for users other than the open counterpart are
		// ignored, not buffered.
		return
	}
	s.typing.RemotePulse()
}

func (s *Synchronizer) handleMessagesSeen(data json.RawMessage) {
	var p models.MessagesSeenPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.mu.Lock()
	advanced := s.receipts.ApplySeen(p.Messages)
	s.mu.Unlock()
	if advanced > 0 {
		s.notify()
	}
}

func (s *Synchronizer) handleReactionUpdated(data json.RawMessage) {
	var p models.ReactionUpdatedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.mu.Lock()
	changed := s.reactions.ApplyUpdate(p.MessageID, p.Reactions)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Synchronizer) handleMessageDeleted(data json.RawMessage) {
	var ref models.MessageRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return
	}
	s.mu.Lock()
	removed := s.store.MarkDeleted(ref.MessageID)
	s.mu.Unlock()
	if removed {
		s.notify()
	}
}

func (s *Synchronizer) handleMessageUpdated(data json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	s.mu.Lock()
	peer := s.peer
	changed := false
	if peer != "" && m.InConversation(s.user, peer) {
		if _, ok := s.store.Get(m.ID); ok {
			s.store.UpsertFromServer(m)
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Synchronizer) markSeen(peer string) {
	err := s.channel.Send(models.EventMarkSeen, models.MarkSeenPayload{
		Sender:   peer,
		Receiver: s.user,
	})
	if err != nil {
		log.Printf("mark_seen dropped for %s: %v", peer, err)
	}
}

func (s *Synchronizer) remoteTypingChanged(active bool) {
	if s.OnTyping != nil {
		s.OnTyping(active)
	}
}

func (s *Synchronizer) notify() {
	if s.OnUpdate != nil {
		s.OnUpdate()
	}
}

func (s *Synchronizer) fail(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}
